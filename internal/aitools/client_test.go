package aitools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, AuthHeader: "Bearer test", Timeout: 2 * time.Second, Retries: retries})
}

func TestDetectLanguage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathDetect, r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ମୋ ଧାନ", body["text"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language":"or"}`))
	}, 0)

	lang, err := client.DetectLanguage(context.Background(), "ମୋ ଧାନ")
	require.NoError(t, err)
	assert.Equal(t, model.Language("or"), lang)
}

func TestDetectLanguageMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lang":"or"}`))
	}, 0)

	_, err := client.DetectLanguage(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		want     string
		wantKind Kind
	}{
		{name: "ok", status: http.StatusOK, body: `{"translated":"my paddy"}`, want: "my paddy"},
		{name: "provider error field", status: http.StatusOK, body: `{"translated":"","error":"bad pair"}`, wantKind: KindMalformed},
		{name: "empty translation", status: http.StatusOK, body: `{}`, wantKind: KindMalformed},
		{name: "bad status", status: http.StatusBadRequest, body: `{"message":"nope"}`, wantKind: KindStatus},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantKind: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body translateRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, model.Language("or"), body.SourceLanguage)
				assert.Equal(t, model.PivotLanguage, body.TargetLanguage)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, 0)

			got, err := client.Translate(context.Background(), "or", model.PivotLanguage, "ମୋ ଧାନ")
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"language":"hi"}`))
	}, 2)

	lang, err := client.DetectLanguage(context.Background(), "नमस्ते")
	require.NoError(t, err)
	assert.Equal(t, model.Language("hi"), lang)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, 3)

	_, err := client.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, KindStatus, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathGenerate, r.URL.Path)

		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Prompt, 2)
		assert.Equal(t, "system", body.Prompt[0].Role)

		_, _ = w.Write([]byte(`{"model":"gpt-3.5-turbo","choices":[{"message":{"content":"Use neem oil."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`))
	}, 0)

	gen, err := client.Generate(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "pests on paddy?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Use neem oil.", gen.Content)
	assert.Equal(t, "gpt-3.5-turbo", gen.Model)
	assert.Equal(t, 12, gen.TokensIn)
	assert.Equal(t, 4, gen.TokensOut)
	assert.JSONEq(t, `{"model":"gpt-3.5-turbo","choices":[{"message":{"content":"Use neem oil."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`, string(gen.Raw))
}

func TestGenerateNoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, 0)

	_, err := client.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := client.SpeechToText(context.Background(), "UklGR", "or")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"language":"en"}`))
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.DetectLanguage(ctx, "hello")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestSearchDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathDocuments, r.URL.Path)

		var body searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 0.78, body.SimilarityThreshold)
		assert.Equal(t, 2, body.MatchCount)

		_, _ = w.Write([]byte(`[
			{"id":17,"content":"Spindle: the stem that bears the flower.","tags":["paddy","anatomy"],"similarity":0.91},
			{"id":"doc-9","content":"Irrigation schedule","tags":"water","similarity":0.8}
		]`))
	}, 0)

	docs, err := client.SearchDocuments(context.Background(), "what is a spindle", 0.78, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "17", docs[0].ID)
	assert.Equal(t, "paddy, anatomy", docs[0].Tags)
	assert.Equal(t, 0.91, docs[0].Score)
	assert.Equal(t, "doc-9", docs[1].ID)
	assert.Equal(t, "water", docs[1].Tags)
}

func TestSearchHistorySkipsEntriesWithoutAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"a","queryInEnglish":"what is a spindle","responseInEnglish":"A stem.","similarity":0.99},
			{"id":"b","queryInEnglish":"what is a spindle?","responseInEnglish":"","similarity":0.98}
		]`))
	}, 0)

	matches, err := client.SearchHistory(context.Background(), "what is a spindle", 0.97, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Entry.ID)
	assert.Equal(t, "A stem.", matches[0].Entry.ResponseInPivot)
}

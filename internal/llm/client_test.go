package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/aitools"
)

type fakeGenerator struct {
	gen      *aitools.Generation
	err      error
	messages []aitools.Message
}

func (f *fakeGenerator) Generate(_ context.Context, messages []aitools.Message) (*aitools.Generation, error) {
	f.messages = messages
	return f.gen, f.err
}

func TestAIToolsClientComplete(t *testing.T) {
	gen := &fakeGenerator{gen: &aitools.Generation{
		Content: "Spray neem oil.",
		Raw:     json.RawMessage(`{"choices":[]}`),
	}}
	client := NewAIToolsClient(gen)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Spray neem oil.", resp.Content)
	assert.Equal(t, "aitools", resp.Model)
	assert.JSONEq(t, `{"choices":[]}`, string(resp.RawMetadata))
	require.Len(t, gen.messages, 2)
	assert.Equal(t, "system", gen.messages[0].Role)
}

func TestAIToolsClientNoChoices(t *testing.T) {
	client := NewAIToolsClient(&fakeGenerator{err: &aitools.Error{Op: "generate", Kind: aitools.KindMalformed, Err: aitools.ErrNoChoices}})

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestAIToolsClientPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	client := NewAIToolsClient(&fakeGenerator{err: boom})

	_, err := client.Complete(context.Background(), &CompletionRequest{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoChoices)
}

func TestOpenAIClientComplete(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{
			name: "content",
			body: `{"id":"c1","model":"gpt-3.5-turbo","choices":[{"index":0,"message":{"role":"assistant","content":"Drain the field."},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":3}}`,
			want: "Drain the field.",
		},
		{
			name:    "no choices",
			body:    `{"id":"c2","model":"gpt-3.5-turbo","choices":[]}`,
			wantErr: ErrNoChoices,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			cfg := openai.DefaultConfig("test-key")
			cfg.BaseURL = server.URL + "/v1"
			client := NewOpenAIClientWithConfig(cfg)

			resp, err := client.Complete(context.Background(), &CompletionRequest{
				Messages: []ChatMessage{{Role: RoleUser, Content: "water logging?"}},
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Content)
			assert.Equal(t, 9, resp.TokensIn)
			assert.NotEmpty(t, resp.RawMetadata)
		})
	}
}

func TestFoldSystem(t *testing.T) {
	got := foldSystem([]ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "be brief\n\nhello", got[0].Content)
	assert.Equal(t, RoleAssistant, got[1].Role)

	only := foldSystem([]ChatMessage{{Role: RoleSystem, Content: "rules"}})
	require.Len(t, only, 1)
	assert.Equal(t, RoleUser, only[0].Role)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Options{Provider: ProviderAITools})
	assert.Error(t, err)

	c, err := NewClient(Options{Tools: &fakeGenerator{}})
	require.NoError(t, err)
	assert.Equal(t, "aitools", c.Name())

	_, err = NewClient(Options{Provider: ProviderOpenAI})
	assert.Error(t, err)

	_, err = NewClient(Options{Provider: "mistral"})
	assert.Error(t, err)
}

func TestOpenAIClientCompatibleServer(t *testing.T) {
	var gotModel string
	var gotMessages int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel = body.Model
		gotMessages = len(body.Messages)
		assert.Equal(t, DefaultMaxTokens, body.MaxTokens)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c3","model":"local","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient("test-key", server.URL+"/v1")
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: RoleSystem, Content: ""}, {Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, DefaultOpenAIModel, gotModel)
	assert.Equal(t, 1, gotMessages, "empty messages are dropped")
}

func TestOpenAIClientErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{status: http.StatusTooManyRequests, want: "rate_limited"},
		{status: http.StatusInternalServerError, want: "status"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			}))
			defer server.Close()

			cfg := openai.DefaultConfig("test-key")
			cfg.BaseURL = server.URL + "/v1"
			_, err := NewOpenAIClientWithConfig(cfg).Complete(context.Background(), &CompletionRequest{
				Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, openAIErrorKind(err))
		})
	}
}

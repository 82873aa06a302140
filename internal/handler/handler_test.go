package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/middleware"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/internal/service"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

type fakeService struct {
	resp  *model.PromptResponse
	err   error
	calls int
	got   *model.PromptRequest
}

func (s *fakeService) Handle(_ context.Context, req *model.PromptRequest) (*model.PromptResponse, error) {
	s.calls++
	s.got = req
	return s.resp, s.err
}

func post(t *testing.T, h *PromptHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/prompt", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Prompt(rec, req)
	return rec
}

func TestPrompt(t *testing.T) {
	svc := &fakeService{resp: model.TextResponse("Spray tricyclazole.")}
	h := NewPromptHandler(svc, logger.NewNop())

	rec := post(t, h, `{"type":"Text","text":"How do I fix spindle spots on paddy?","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"Spray tricyclazole.","error":null}`, rec.Body.String())
	require.NotNil(t, svc.got)
	assert.Equal(t, "How do I fix spindle spots on paddy?", svc.got.Text)
}

func TestPromptChannelFromClaims(t *testing.T) {
	svc := &fakeService{resp: model.TextResponse("ok")}
	h := NewPromptHandler(svc, logger.NewNop())
	body := `{"type":"Text","text":"paddy","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`

	req := httptest.NewRequest(http.MethodPost, "/prompt", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.ChannelKey, "whatsapp"))
	h.Prompt(httptest.NewRecorder(), req)
	require.NotNil(t, svc.got)
	assert.Equal(t, "whatsapp", svc.got.Channel)

	rec := post(t, h, `{"type":"Text","text":"paddy","channel":"telegram","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "telegram", svc.got.Channel)
}

func TestPromptErrorResponse(t *testing.T) {
	svc := &fakeService{resp: model.ErrorResponse("unable to translate given language")}
	h := NewPromptHandler(svc, logger.NewNop())

	rec := post(t, h, `{"type":"Text","text":"ଧାନ","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":null,"error":"unable to translate given language"}`, rec.Body.String())
}

func TestPromptUnsupportedMedia(t *testing.T) {
	svc := &fakeService{err: service.ErrUnsupportedMedia}
	h := NewPromptHandler(svc, logger.NewNop())

	rec := post(t, h, `{"type":"Text","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f","media":{"category":"image","url":"https://example.com/a.jpg"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"","media":{"category":"image","url":"https://example.com/a.jpg"},"mediaCaption":"","error":"Unsupported media"}`, rec.Body.String())
}

func TestPromptRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"type":`},
		{name: "missing user", body: `{"type":"Text","text":"paddy"}`},
		{name: "empty", body: `{"type":"Text","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec := post(t, NewPromptHandler(svc, logger.NewNop()), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp model.PromptResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Nil(t, resp.Text)
			require.NotNil(t, resp.Error)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestPromptUnexpectedError(t *testing.T) {
	svc := &fakeService{err: errors.New("boom")}
	rec := post(t, NewPromptHandler(svc, logger.NewNop()), `{"type":"Text","text":"paddy","userId":"8f9b3f1e-4c4d-4d0a-9b3c-1f1f0f0f0f0f"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":null`)
}

func TestHello(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPromptHandler(&fakeService{}, logger.NewNop()).Hello(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello World!", rec.Body.String())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   int
	}{
		{name: "no checks", want: http.StatusOK},
		{
			name:   "healthy",
			checks: map[string]Check{"database": func(context.Context) error { return nil }},
			want:   http.StatusOK,
		},
		{
			name: "failing",
			checks: map[string]Check{
				"database": func(context.Context) error { return nil },
				"nats":     func(context.Context) error { return errors.New("not connected") },
			},
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/internal/flow"
	"github.com/capitalize-ai/prompt-engine/internal/middleware"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/internal/service"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

// MaxBodyBytes bounds a prompt body. Audio arrives base64 encoded inline.
const MaxBodyBytes = 16 << 20

// PromptService runs a conversational turn.
type PromptService interface {
	Handle(ctx context.Context, req *model.PromptRequest) (*model.PromptResponse, error)
}

// PromptHandler handles the prompt endpoint.
type PromptHandler struct {
	service PromptService
	logger  *logger.Logger
}

// NewPromptHandler creates a new prompt handler.
func NewPromptHandler(svc PromptService, log *logger.Logger) *PromptHandler {
	return &PromptHandler{service: svc, logger: log}
}

// Hello handles GET /
func (h *PromptHandler) Hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello World!"))
}

// Prompt handles POST /prompt
func (h *PromptHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var req model.PromptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePrompt(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Channel == "" {
		req.Channel = middleware.GetChannel(r.Context())
	}

	resp, err := h.service.Handle(r.Context(), &req)
	if errors.Is(err, service.ErrUnsupportedMedia) {
		writeJSON(w, http.StatusOK, model.UnsupportedMediaResponse{
			Text:         "",
			Media:        req.Media,
			MediaCaption: "",
			Error:        "Unsupported media",
		})
		return
	}
	if err != nil {
		h.logger.Error("prompt failed",
			zap.String("user_id", req.UserID),
			zap.String("correlation_id", logger.CorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, flow.MsgGenericError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

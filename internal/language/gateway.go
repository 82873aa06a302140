// Package language normalizes inbound messages into the pivot language and
// localizes replies back into the user's language.
package language

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
	"github.com/capitalize-ai/prompt-engine/pkg/tracing"
)

var (
	// ErrDetection is returned when the input language cannot be determined.
	ErrDetection = errors.New("unable to detect language")
	// ErrTranslation is returned when a translation leg fails.
	ErrTranslation = errors.New("unable to translate given language")
	// ErrUnsupportedInput is returned for input the gateway cannot turn into text.
	ErrUnsupportedInput = errors.New("unsupported input")
)

// Provider is the set of language capabilities the gateway depends on.
type Provider interface {
	DetectLanguage(ctx context.Context, text string) (model.Language, error)
	Translate(ctx context.Context, source, target model.Language, text string) (string, error)
	SpeechToText(ctx context.Context, audio string, language model.Language) (string, error)
}

// Gateway detects and translates user text.
type Gateway struct {
	provider Provider
	logger   *logger.Logger
}

// NewGateway creates a new Gateway.
func NewGateway(provider Provider, log *logger.Logger) *Gateway {
	return &Gateway{provider: provider, logger: log}
}

// Detect classifies the language of text. Digits-only text is the pivot
// language and never reaches the provider.
func (g *Gateway) Detect(ctx context.Context, text string) (model.Language, error) {
	if IsNumeric(text) {
		return model.PivotLanguage, nil
	}

	ctx, span := tracing.Start(ctx, "language.detect")
	defer span.End()

	lang, err := g.provider.DetectLanguage(ctx, text)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("language detection failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrDetection, err)
	}
	if lang == "" {
		return "", ErrDetection
	}
	span.SetAttributes(attribute.String("language", string(lang)))
	return lang, nil
}

// Translate translates text between languages. Identical languages are a no-op.
func (g *Gateway) Translate(ctx context.Context, source, target model.Language, text string) (string, error) {
	if source == target || strings.TrimSpace(text) == "" {
		return text, nil
	}

	ctx, span := tracing.Start(ctx, "language.translate")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", string(source)),
		attribute.String("target", string(target)),
	)

	out, err := g.provider.Translate(ctx, source, target, normalizeNewlines(text))
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("translation failed",
			zap.String("source", string(source)),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrTranslation
	}
	return out, nil
}

// Transcribe converts base64 audio into text spoken in the declared language.
func (g *Gateway) Transcribe(ctx context.Context, audio string, declared model.Language) (string, error) {
	if declared == "" {
		return "", fmt.Errorf("%w: audio requires a declared input language", ErrUnsupportedInput)
	}
	if audio == "" {
		return "", fmt.Errorf("%w: empty audio payload", ErrUnsupportedInput)
	}

	ctx, span := tracing.Start(ctx, "language.transcribe")
	defer span.End()

	text, err := g.provider.SpeechToText(ctx, audio, declared)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("speech to text failed", zap.String("language", string(declared)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	return text, nil
}

// Normalize runs the inbound leg for a request and returns a Prompt whose
// PivotText is populated. Text takes precedence over media.
func (g *Gateway) Normalize(ctx context.Context, req *model.PromptRequest) (*model.Prompt, error) {
	prompt := &model.Prompt{
		Input:     req,
		InputType: req.Type,
		StartedAt: time.Now(),
	}

	text := strings.TrimSpace(req.Text)
	switch {
	case text != "":
		lang, err := g.Detect(ctx, text)
		if err != nil {
			return nil, err
		}
		prompt.InputText = text
		prompt.InputLanguage = lang
	case req.Media != nil:
		if !IsTranscribable(req.Media) {
			return nil, fmt.Errorf("%w: media category %q", ErrUnsupportedInput, req.Media.Category)
		}
		declared := model.Language(req.InputLanguage)
		transcript, err := g.Transcribe(ctx, req.Media.Text, declared)
		if err != nil {
			return nil, err
		}
		prompt.InputType = model.InputTypeAudio
		prompt.InputText = transcript
		prompt.InputLanguage = declared
	default:
		return nil, fmt.Errorf("%w: empty text", ErrUnsupportedInput)
	}

	if prompt.IsPivot() {
		prompt.PivotText = prompt.InputText
		return prompt, nil
	}

	pivot, err := g.Translate(ctx, prompt.InputLanguage, model.PivotLanguage, prompt.InputText)
	if err != nil {
		return nil, err
	}
	prompt.PivotText = pivot

	return prompt, nil
}

// IsTranscribable reports whether media carries audio the gateway can handle.
func IsTranscribable(media *model.Media) bool {
	return media != nil && media.Category == model.MediaCategoryAudio && media.Text != ""
}

// IsNumeric reports whether text consists entirely of ASCII digits.
func IsNumeric(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeNewlines turns line breaks into sentence terminators for
// line-oriented translation providers.
func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", ". ")
}

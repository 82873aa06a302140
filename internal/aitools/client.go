// Package aitools is the HTTP client for the AI tools collaborators: language
// detection, translation, speech-to-text, similarity search and generation.
package aitools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// Collaborator endpoints, relative to the base URL.
const (
	PathDetect       = "/text_lang_detection/bhashini/remote"
	PathTranslate    = "/text_translation/bhashini/remote"
	PathSpeechToText = "/speech_to_text/bhashini/remote"
	PathGenerate     = "/llm/openai/chatgpt3"
	PathHistory      = "/prompt-history/search"
	PathDocuments    = "/embeddings/search"
)

// Config configures the collaborator client.
type Config struct {
	BaseURL    string
	AuthHeader string
	Timeout    time.Duration
	// Retries applies to idempotent lookups only. Generation is never retried.
	Retries int
}

// Client talks to the AI tools service.
type Client struct {
	lookup   *resty.Client
	generate *resty.Client
}

// NewClient creates a Resty-backed collaborator client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := func() *resty.Client {
		c := resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout)
		if cfg.AuthHeader != "" {
			c.SetHeader("Authorization", cfg.AuthHeader)
		}
		return c
	}

	lookup := base().
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && (r.StatusCode() >= 500 || r.StatusCode() == 429)
		})

	return &Client{
		lookup:   lookup,
		generate: base(),
	}
}

func (c *Client) post(ctx context.Context, op string, client *resty.Client, path string, body, result any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return newError(op, transportKind(err), 0, err)
	}
	if resp.IsError() {
		return newError(op, KindStatus, resp.StatusCode(), fmt.Errorf("unexpected response: %s", truncate(resp.String(), 256)))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return newError(op, KindMalformed, resp.StatusCode(), fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Language string `json:"language"`
}

// DetectLanguage classifies the language of text.
func (c *Client) DetectLanguage(ctx context.Context, text string) (model.Language, error) {
	var out detectResponse
	if err := c.post(ctx, "detect", c.lookup, PathDetect, detectRequest{Text: text}, &out); err != nil {
		return "", err
	}
	if out.Language == "" {
		return "", newError("detect", KindMalformed, 0, errors.New("response carried no language"))
	}
	return model.Language(out.Language), nil
}

type translateRequest struct {
	SourceLanguage model.Language `json:"source_language"`
	TargetLanguage model.Language `json:"target_language"`
	Text           string         `json:"text"`
}

type translateResponse struct {
	Translated string `json:"translated"`
	Error      any    `json:"error,omitempty"`
}

// Translate translates text from source to target.
func (c *Client) Translate(ctx context.Context, source, target model.Language, text string) (string, error) {
	var out translateResponse
	req := translateRequest{SourceLanguage: source, TargetLanguage: target, Text: text}
	if err := c.post(ctx, "translate", c.lookup, PathTranslate, req, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", newError("translate", KindMalformed, 0, fmt.Errorf("provider reported error: %v", out.Error))
	}
	if out.Translated == "" {
		return "", newError("translate", KindMalformed, 0, errors.New("response carried no translation"))
	}
	return out.Translated, nil
}

type speechRequest struct {
	Audio    string         `json:"audio"`
	Language model.Language `json:"language"`
}

type speechResponse struct {
	Data struct {
		Source string `json:"source"`
	} `json:"data"`
}

// SpeechToText transcribes base64 audio spoken in language.
func (c *Client) SpeechToText(ctx context.Context, audio string, language model.Language) (string, error) {
	var out speechResponse
	if err := c.post(ctx, "speech_to_text", c.lookup, PathSpeechToText, speechRequest{Audio: audio, Language: language}, &out); err != nil {
		return "", err
	}
	if out.Data.Source == "" {
		return "", newError("speech_to_text", KindMalformed, 0, errors.New("response carried no transcript"))
	}
	return out.Data.Source, nil
}

// Message is a generation prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Prompt []Message `json:"prompt"`
}

type generateResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generation is a generation result plus the raw provider payload.
type Generation struct {
	Content      string
	Model        string
	FinishReason string
	TokensIn     int
	TokensOut    int
	Raw          json.RawMessage
}

// ErrNoChoices is returned when the generation payload carries no choices.
var ErrNoChoices = errors.New("generation returned no choices")

// Generate invokes the generation endpoint once.
func (c *Client) Generate(ctx context.Context, messages []Message) (*Generation, error) {
	var raw json.RawMessage
	if err := c.post(ctx, "generate", c.generate, PathGenerate, generateRequest{Prompt: messages}, &raw); err != nil {
		return nil, err
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, newError("generate", KindMalformed, 0, fmt.Errorf("failed to decode choices: %w", err))
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, newError("generate", KindMalformed, 0, ErrNoChoices)
	}

	return &Generation{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
		TokensIn:     out.Usage.PromptTokens,
		TokensOut:    out.Usage.CompletionTokens,
		Raw:          raw,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
)

// DefaultOpenAIModel is used when a request names no model.
const DefaultOpenAIModel = openai.GPT3Dot5Turbo

// OpenAIClient generates with the OpenAI chat completions API or any server
// that implements it.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client. A non-empty baseURL targets an
// OpenAI compatible server instead of api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIClientWithConfig(cfg), nil
}

// NewOpenAIClientWithConfig creates a client from a full SDK config.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		metrics.RecordProviderError("openai_complete", openAIErrorKind(err))
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrNoChoices
	}

	return &CompletionResponse{
		Content:     resp.Choices[0].Message.Content,
		Model:       resp.Model,
		TokensIn:    resp.Usage.PromptTokens,
		TokensOut:   resp.Usage.CompletionTokens,
		StopReason:  string(resp.Choices[0].FinishReason),
		LatencyMs:   time.Since(start).Milliseconds(),
		RawMetadata: marshalRaw(resp),
	}, nil
}

func openAIErrorKind(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "status"
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return "status"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unavailable"
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
)

// DefaultAnthropicModel is used when a request names no model.
const DefaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends a completion request. System messages are folded into the
// first user turn.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	turns := foldSystem(req.Messages)
	messages := make([]anthropic.MessageParam, len(turns))
	for i, msg := range turns {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokensOrDefault(req.MaxTokens))),
		Messages:  anthropic.F(messages),
	})
	if err != nil {
		metrics.RecordProviderError("anthropic_complete", anthropicErrorKind(err))
		return nil, fmt.Errorf("anthropic completion failed: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return nil, ErrNoChoices
	}

	return &CompletionResponse{
		Content:     content,
		Model:       resp.Model,
		TokensIn:    int(resp.Usage.InputTokens),
		TokensOut:   int(resp.Usage.OutputTokens),
		StopReason:  string(resp.StopReason),
		LatencyMs:   time.Since(start).Milliseconds(),
		RawMetadata: marshalRaw(resp),
	}, nil
}

// foldSystem prepends system content to the first user message.
func foldSystem(messages []ChatMessage) []ChatMessage {
	var system []string
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		out = append(out, msg)
	}
	if len(system) == 0 {
		return out
	}

	prefix := strings.Join(system, "\n\n")
	for i := range out {
		if out[i].Role == RoleUser {
			out[i].Content = prefix + "\n\n" + out[i].Content
			return out
		}
	}
	return append([]ChatMessage{{Role: RoleUser, Content: prefix}}, out...)
}

func anthropicErrorKind(err error) string {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "status"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unavailable"
}

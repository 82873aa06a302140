// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoChoices is returned when a provider answers without any content.
var ErrNoChoices = errors.New("llm returned no choices")

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
	// RawMetadata is the provider payload, kept for the history record.
	RawMetadata json.RawMessage
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response. A response
	// without content is reported as ErrNoChoices.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAITools   Provider = "aitools"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options configures NewClient.
type Options struct {
	Provider        Provider
	AnthropicAPIKey string
	OpenAIAPIKey    string
	// OpenAIBaseURL points the openai provider at a compatible server.
	OpenAIBaseURL string
	// Tools backs the aitools provider.
	Tools Generator
}

// NewClient creates a new LLM client based on provider.
func NewClient(opts Options) (Client, error) {
	switch opts.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts.AnthropicAPIKey)
	case ProviderOpenAI:
		return NewOpenAIClient(opts.OpenAIAPIKey, opts.OpenAIBaseURL)
	case ProviderAITools, "":
		if opts.Tools == nil {
			return nil, errors.New("aitools generator is required")
		}
		return NewAIToolsClient(opts.Tools), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// DefaultMaxTokens caps generated answers when a request sets no limit.
const DefaultMaxTokens = 1024

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

func marshalRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

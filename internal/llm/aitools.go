package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/prompt-engine/internal/aitools"
)

// Generator is the AI tools generation endpoint.
type Generator interface {
	Generate(ctx context.Context, messages []aitools.Message) (*aitools.Generation, error)
}

// AIToolsClient generates through the AI tools service.
type AIToolsClient struct {
	tools Generator
}

// NewAIToolsClient creates a new AI tools backed client.
func NewAIToolsClient(tools Generator) *AIToolsClient {
	return &AIToolsClient{tools: tools}
}

// Name returns the provider name.
func (c *AIToolsClient) Name() string {
	return "aitools"
}

// Complete sends a completion request. The model is chosen by the service.
func (c *AIToolsClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	messages := make([]aitools.Message, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = aitools.Message{Role: msg.Role, Content: msg.Content}
	}

	gen, err := c.tools.Generate(ctx, messages)
	if err != nil {
		if errors.Is(err, aitools.ErrNoChoices) {
			return nil, fmt.Errorf("%w: %v", ErrNoChoices, err)
		}
		return nil, err
	}

	model := gen.Model
	if model == "" {
		model = c.Name()
	}

	return &CompletionResponse{
		Content:     gen.Content,
		Model:       model,
		TokensIn:    gen.TokensIn,
		TokensOut:   gen.TokensOut,
		StopReason:  gen.FinishReason,
		LatencyMs:   time.Since(start).Milliseconds(),
		RawMetadata: gen.Raw,
	}, nil
}

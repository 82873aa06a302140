// Package coref rewrites the latest user turn into a self-contained query by
// resolving references against recent history.
package coref

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/prompt-engine/internal/llm"
)

// Turn is one prior exchange, in the pivot language.
type Turn struct {
	Query    string
	Response string
}

// Result is a rewritten query plus the provider payload that produced it.
type Result struct {
	Query       string
	RawMetadata json.RawMessage
}

// Rewriter turns the latest query into a standalone query given history
// ordered oldest first.
type Rewriter interface {
	Rewrite(ctx context.Context, history []Turn, query string) (*Result, error)
}

// PassThrough returns the query unchanged.
type PassThrough struct{}

// Rewrite implements Rewriter.
func (PassThrough) Rewrite(_ context.Context, _ []Turn, query string) (*Result, error) {
	return &Result{Query: query}, nil
}

const instructions = `You are an AI tool that carries out neural coreference for conversations. Replace the last message in the conversation with the coreferenced message.

Rules - Follow these rules forever.
1. Never answer the question. Only return the last message, coreferenced.
2. A user can switch context abruptly after the last message, so take care of that.
3. If coreference is not needed or could not be figured out, return the last user question directly.

Input:
User: How do I protect my crops from pests?
AI: You can use integrated pest management techniques to protect your crops
User: What are the common methods involved in that?

Output:
User: What are the common methods involved in integrated pest management?

Input:
User: Where can I get seeds for rice?
AI: You can get seeds for rice from the block agriculture office.
User: Where can I get seeds for rice?

Output:
User: Where can I get seeds for rice?

Input:
User: Where can I get seeds for rice?
AI: You can get seeds for rice from the block agriculture office.
User: My paddy has spindle shaped spots with pointed ends. How do I fix it?

Output:
User: My paddy has spindle shaped spots with pointed ends. How do I fix the disease?
`

// LLMRewriter rewrites through a generation call with a fixed rule prompt.
type LLMRewriter struct {
	client llm.Client
	model  string
}

// NewLLMRewriter creates a new LLMRewriter.
func NewLLMRewriter(client llm.Client, model string) *LLMRewriter {
	return &LLMRewriter{client: client, model: model}
}

// Rewrite implements Rewriter. An empty rewrite falls back to the raw query.
func (r *LLMRewriter) Rewrite(ctx context.Context, history []Turn, query string) (*Result, error) {
	if len(history) == 0 {
		return &Result{Query: query}, nil
	}

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model: r.model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: BuildPrompt(history, query)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite query: %w", err)
	}

	rewritten := Clean(resp.Content)
	if rewritten == "" {
		rewritten = query
	}
	return &Result{Query: rewritten, RawMetadata: resp.RawMetadata}, nil
}

// BuildPrompt renders the rule prompt followed by the conversation.
func BuildPrompt(history []Turn, query string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\nInput:\n")
	b.WriteString(Transcript(history, query))
	b.WriteString("\nOutput:")
	return b.String()
}

// Transcript renders history and the current query as User/AI lines.
func Transcript(history []Turn, query string) string {
	lines := make([]string, 0, 2*len(history)+1)
	for _, t := range history {
		lines = append(lines, "User: "+t.Query, "AI: "+t.Response)
	}
	if query != "" {
		lines = append(lines, "User: "+query)
	}
	return strings.Join(lines, "\n")
}

// Clean strips the Output/User labels a model echoes back.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(strings.TrimPrefix(text, "Output:"))
	text = strings.TrimSpace(strings.TrimPrefix(text, "User:"))
	return text
}

// Package embedding turns text into vectors for similarity search.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("empty embedding")

// Embedder produces a vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates a new OpenAIEmbedder.
func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return NewOpenAIEmbedderWithConfig(openai.DefaultConfig(apiKey), model), nil
}

// NewOpenAIEmbedderWithConfig creates an embedder against a custom endpoint.
func NewOpenAIEmbedderWithConfig(cfg openai.ClientConfig, model string) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
	}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// Cache stores vectors by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, value []float32, ttl time.Duration) error
}

// CachedEmbedder memoizes another Embedder.
type CachedEmbedder struct {
	next   Embedder
	cache  Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedEmbedder wraps next with cache.
func NewCachedEmbedder(next Embedder, cache Cache, ttl time.Duration, log *logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, ttl: ttl, logger: log}
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(text)
	if v, ok := c.cache.Get(ctx, key); ok {
		return v, nil
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("failed to cache embedding", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	c.logger.Debug("embedding cached", zap.String("key", key), zap.Int("dims", len(v)))
	return v, nil
}

// Key derives a cache key from normalized text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

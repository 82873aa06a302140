// Package retrieval finds supporting documents and prior answers by
// similarity.
package retrieval

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// DocumentSearcher is the remote knowledge corpus search.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, query string, threshold float64, matchCount int) ([]model.ContextDocument, error)
}

// HistorySearcher is the remote prompt history search.
type HistorySearcher interface {
	SearchHistory(ctx context.Context, query string, threshold float64, matchCount int) ([]model.SimilarityMatch, error)
}

// Remote retrieves context from the AI tools similarity search.
type Remote struct {
	searcher DocumentSearcher
}

// NewRemote creates a new Remote retriever.
func NewRemote(searcher DocumentSearcher) *Remote {
	return &Remote{searcher: searcher}
}

// Retrieve returns up to limit documents scoring at least threshold.
func (r *Remote) Retrieve(ctx context.Context, query string, threshold float64, limit int) ([]model.ContextDocument, error) {
	docs, err := r.searcher.SearchDocuments(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	return clip(docs, limit), nil
}

// RemoteHistory finds prior answers through the AI tools history search.
type RemoteHistory struct {
	searcher HistorySearcher
}

// NewRemoteHistory creates a new RemoteHistory matcher.
func NewRemoteHistory(searcher HistorySearcher) *RemoteHistory {
	return &RemoteHistory{searcher: searcher}
}

// FindSimilar returns up to limit prior entries scoring at least threshold.
func (r *RemoteHistory) FindSimilar(ctx context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error) {
	matches, err := r.searcher.SearchHistory(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	return clip(matches, limit), nil
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

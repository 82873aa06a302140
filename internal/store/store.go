// Package store persists completed turns and the context that informed them.
package store

import (
	"context"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// HistoryStore is the append-only record of completed turns.
type HistoryStore interface {
	// Create writes one entry. Entries are never updated.
	Create(ctx context.Context, entry *model.HistoryEntry) error
	// Recent returns up to n entries for userID, newest first.
	Recent(ctx context.Context, userID string, n int) ([]model.HistoryEntry, error)
	// CreateContextLinks records which documents informed a turn.
	CreateContextLinks(ctx context.Context, links []model.ContextLink) error
	// FindSimilar returns entries whose lookup text scores at least threshold
	// against query, best first.
	FindSimilar(ctx context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error)
}

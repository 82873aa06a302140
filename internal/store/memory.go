package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// MemoryStore is an in-process HistoryStore. Similarity is 1 for queries that
// are equal after normalization and 0 otherwise.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.HistoryEntry
	links   []model.ContextLink
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Create implements HistoryStore.
func (s *MemoryStore) Create(_ context.Context, entry *model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

// Recent implements HistoryStore.
func (s *MemoryStore) Recent(_ context.Context, userID string, n int) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.HistoryEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// CreateContextLinks implements HistoryStore.
func (s *MemoryStore) CreateContextLinks(_ context.Context, links []model.ContextLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, links...)
	return nil
}

// FindSimilar implements HistoryStore.
func (s *MemoryStore) FindSimilar(_ context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := normalize(query)
	var out []model.SimilarityMatch
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.ResponseInPivot == "" {
			continue
		}
		score := 0.0
		if normalize(e.LookupText()) == want {
			score = 1
		}
		if score >= threshold {
			out = append(out, model.SimilarityMatch{Entry: e, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entries returns a copy of all entries, oldest first.
func (s *MemoryStore) Entries() []model.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.HistoryEntry(nil), s.entries...)
}

// Links returns a copy of all context links.
func (s *MemoryStore) Links() []model.ContextLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ContextLink(nil), s.links...)
}

func normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, "?.! ")
}

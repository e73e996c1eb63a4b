package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure LogStore implements the interface.
var _ driven.LogStore = (*LogStore)(nil)

// LogStore is an in-memory implementation of driven.LogStore.
type LogStore struct {
	mu      sync.RWMutex
	entries []domain.IndexerLogEntry

	// FailAppend makes Append return this error. Tests use it to check that
	// log write failures never break a handler.
	FailAppend error
}

// NewLogStore creates a new in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// Append writes one entry.
func (s *LogStore) Append(_ context.Context, entry *domain.IndexerLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return s.FailAppend
	}
	if entry == nil || entry.ID == "" {
		return domain.ErrInvalidInput
	}
	s.entries = append(s.entries, *entry)
	return nil
}

// List returns the most recent entries matching filter, newest first.
func (s *LogStore) List(_ context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.IndexerLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		if filter.Handler != "" && e.Handler != filter.Handler {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].OccurredAt.After(out[b].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune removes all but the most recent keep entries.
func (s *LogStore) Prune(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	if len(s.entries) <= keep {
		return 0, nil
	}
	sort.SliceStable(s.entries, func(a, b int) bool {
		return s.entries[a].OccurredAt.Before(s.entries[b].OccurredAt)
	})
	removed := len(s.entries) - keep
	s.entries = append([]domain.IndexerLogEntry(nil), s.entries[removed:]...)
	return removed, nil
}

// Len returns the number of stored entries.
func (s *LogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

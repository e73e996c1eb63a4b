package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure CoverageStore implements the interface.
var _ driven.CoverageStore = (*CoverageStore)(nil)

type coverageKey struct {
	entityType  string
	tenant      string
	org         string
	withDeleted bool
}

// CoverageStore is an in-memory implementation of driven.CoverageStore.
type CoverageStore struct {
	mu        sync.RWMutex
	snapshots map[coverageKey]domain.IndexCoverage
}

// NewCoverageStore creates a new in-memory coverage store.
func NewCoverageStore() *CoverageStore {
	return &CoverageStore{
		snapshots: make(map[coverageKey]domain.IndexCoverage),
	}
}

func coverageKeyOf(entityType string, scope domain.Scope, withDeleted bool) coverageKey {
	return coverageKey{
		entityType:  entityType,
		tenant:      scope.TenantID,
		org:         domain.CanonicalOrg(scope.OrganizationID),
		withDeleted: withDeleted,
	}
}

// Replace overwrites the snapshot of the coverage's scope tuple.
func (s *CoverageStore) Replace(_ context.Context, c *domain.IndexCoverage) error {
	if c == nil || c.EntityType == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[coverageKeyOf(c.EntityType, c.Scope, c.WithDeleted)] = *c
	return nil
}

// Get returns the snapshot of a scope tuple.
func (s *CoverageStore) Get(_ context.Context, entityType string, scope domain.Scope, withDeleted bool) (*domain.IndexCoverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.snapshots[coverageKeyOf(entityType, scope, withDeleted)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// List returns snapshots, optionally restricted to one entity type.
func (s *CoverageStore) List(_ context.Context, entityType string) ([]domain.IndexCoverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.IndexCoverage
	for k, c := range s.snapshots {
		if entityType == "" || k.entityType == entityType {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ka := coverageKeyOf(out[a].EntityType, out[a].Scope, out[a].WithDeleted)
		kb := coverageKeyOf(out[b].EntityType, out[b].Scope, out[b].WithDeleted)
		switch {
		case ka.entityType != kb.entityType:
			return ka.entityType < kb.entityType
		case ka.tenant != kb.tenant:
			return ka.tenant < kb.tenant
		case ka.org != kb.org:
			return ka.org < kb.org
		default:
			return !ka.withDeleted && kb.withDeleted
		}
	})
	return out, nil
}

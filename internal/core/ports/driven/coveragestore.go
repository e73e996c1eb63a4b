package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// CoverageStore persists coverage snapshots, one per
// (entity type, tenant, organisation, withDeleted).
type CoverageStore interface {
	// Replace overwrites the snapshot of the coverage's scope tuple.
	Replace(ctx context.Context, coverage *domain.IndexCoverage) error

	// Get returns the snapshot of a scope tuple.
	// Returns domain.ErrNotFound if none was computed yet.
	Get(ctx context.Context, entityType string, scope domain.Scope, withDeleted bool) (*domain.IndexCoverage, error)

	// List returns snapshots, optionally restricted to one entity type.
	List(ctx context.Context, entityType string) ([]domain.IndexCoverage, error)
}

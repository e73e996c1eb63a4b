package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// CoverageAccountant compares source and index row counts. It takes no
// locks: a snapshot taken during a reindex simply reports the drift of
// that moment.
type CoverageAccountant struct {
	registry    driven.EntityRegistry
	source      driven.SourceReader
	index       driven.IndexStore
	coverage    driven.CoverageStore
	concurrency int
	now         func() time.Time
}

// NewCoverageAccountant creates a coverage accountant. concurrency bounds
// how many entity types are counted at once.
func NewCoverageAccountant(
	registry driven.EntityRegistry,
	source driven.SourceReader,
	index driven.IndexStore,
	coverage driven.CoverageStore,
	concurrency int,
) *CoverageAccountant {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CoverageAccountant{
		registry:    registry,
		source:      source,
		index:       index,
		coverage:    coverage,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Refresh rewrites the snapshots of every known entity type: the aggregate
// scope plus every distinct (tenant, organisation) pair of the source, with
// and without soft-deleted records. Returns the number of snapshots written.
// A failing entity type does not stop the others.
func (a *CoverageAccountant) Refresh(ctx context.Context) (int, error) {
	types, err := a.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list entity types: %w", err)
	}

	var (
		mu      sync.Mutex
		written int
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, entityType := range types {
		entityType := entityType
		g.Go(func() error {
			n, err := a.refreshType(gctx, entityType)
			mu.Lock()
			defer mu.Unlock()
			written += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("coverage: %d snapshots for %d entity types", written, len(types))
	return written, errors.Join(errs...)
}

func (a *CoverageAccountant) refreshType(ctx context.Context, entityType string) (int, error) {
	desc, err := a.registry.Resolve(ctx, entityType)
	if err != nil {
		return 0, err
	}
	scopes, err := a.source.ListScopes(ctx, desc)
	if err != nil {
		return 0, err
	}

	all := []domain.Scope{{}}
	for _, sc := range scopes {
		if !sc.IsGlobal() {
			all = append(all, sc)
		}
	}
	modes := []bool{false}
	if desc.HasSoftDeleteColumn {
		modes = append(modes, true)
	}

	written := 0
	for _, scope := range all {
		for _, withDeleted := range modes {
			c, err := a.compute(ctx, desc, scope, withDeleted)
			if err != nil {
				return written, err
			}
			written++
			if scope.IsGlobal() && !withDeleted {
				metrics.CoverageCounts.WithLabelValues(entityType, "base").Set(float64(c.BaseCount))
				metrics.CoverageCounts.WithLabelValues(entityType, "indexed").Set(float64(c.IndexedCount))
				metrics.CoverageCounts.WithLabelValues(entityType, "vector").Set(float64(c.VectorIndexedCount))
			}
		}
	}
	return written, nil
}

// Compute refreshes and returns the snapshot of a single scope.
func (a *CoverageAccountant) Compute(ctx context.Context, entityType string, scope domain.Scope, withDeleted bool) (*domain.IndexCoverage, error) {
	desc, err := a.registry.Resolve(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return a.compute(ctx, desc, scope, withDeleted)
}

func (a *CoverageAccountant) compute(ctx context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, withDeleted bool) (*domain.IndexCoverage, error) {
	base, err := a.source.CountRecords(ctx, desc, scope, withDeleted)
	if err != nil {
		return nil, err
	}
	indexed, vectors, err := a.index.Count(ctx, desc.ID, scope)
	if err != nil {
		return nil, err
	}

	c := &domain.IndexCoverage{
		EntityType:         desc.ID,
		Scope:              scope,
		WithDeleted:        withDeleted,
		BaseCount:          base,
		IndexedCount:       indexed,
		VectorIndexedCount: vectors,
		RefreshedAt:        a.now().UTC(),
	}
	if err := a.coverage.Replace(ctx, c); err != nil {
		return nil, fmt.Errorf("store coverage: %w", err)
	}
	return c, nil
}

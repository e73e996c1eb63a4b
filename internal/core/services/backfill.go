package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

const defaultBackfillBatch = 500

// EmbeddingBackfill re-emits vectorize events for live rows that still have
// no embedding. Vectorize events are dropped once the bus gives up on them,
// for instance while the embedding breaker is open; this pass picks those
// rows up again.
type EmbeddingBackfill struct {
	registry driven.EntityRegistry
	index    driven.IndexStore
	bus      driven.EventBus
	batch    int
}

// NewEmbeddingBackfill creates a backfill pass. It returns nil when the
// vectorizer is disabled, and a nil backfill does nothing.
func NewEmbeddingBackfill(
	registry driven.EntityRegistry,
	index driven.IndexStore,
	bus driven.EventBus,
	vectorizer *Vectorizer,
	batch int,
) *EmbeddingBackfill {
	if !vectorizer.Enabled() {
		return nil
	}
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	return &EmbeddingBackfill{registry: registry, index: index, bus: bus, batch: batch}
}

// Run emits one vectorize event per unembedded row of every entity type and
// returns how many were emitted. A failing entity type does not stop the
// others.
func (b *EmbeddingBackfill) Run(ctx context.Context) (int, error) {
	if b == nil {
		return 0, nil
	}
	types, err := b.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing entity types: %w", err)
	}

	var (
		emitted int
		errs    []error
	)
	for _, entityType := range types {
		n, err := b.runType(ctx, entityType)
		emitted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
		}
	}
	return emitted, errors.Join(errs...)
}

func (b *EmbeddingBackfill) runType(ctx context.Context, entityType string) (int, error) {
	var (
		after   domain.IndexKey
		emitted int
	)
	for {
		page, err := b.index.ListUnembedded(ctx, entityType, after, b.batch)
		if err != nil {
			return emitted, err
		}
		for _, ev := range page {
			if err := b.bus.Emit(ctx, domain.EventVectorizeOne, ev); err != nil {
				return emitted, fmt.Errorf("emit vectorize: %w", err)
			}
			emitted++
		}
		metrics.VectorizeResults.WithLabelValues(entityType, "requeued").Add(float64(len(page)))
		if len(page) < b.batch {
			return emitted, nil
		}
		after = page[len(page)-1].Key()
	}
}

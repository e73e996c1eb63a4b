package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// PurgeWorkflow soft-deletes every index row of a scope while holding the
// scope lock with status purging.
type PurgeWorkflow struct {
	index driven.IndexStore
	lock  *ScopeLock
	now   func() time.Time
}

// NewPurgeWorkflow creates a purge workflow.
func NewPurgeWorkflow(index driven.IndexStore, lock *ScopeLock) *PurgeWorkflow {
	return &PurgeWorkflow{index: index, lock: lock, now: time.Now}
}

// Purge soft-deletes the rows of req's entity type visible to its scope.
// Returns domain.ErrLockHeld when a reindex or purge holds the scope.
func (w *PurgeWorkflow) Purge(ctx context.Context, req domain.PurgeRequest) (int, error) {
	if req.EntityType == "" {
		return 0, domain.ErrInvalidInput
	}
	job := &domain.ReindexJob{
		EntityType: req.EntityType,
		Scope:      req.Scope,
		Status:     domain.JobPurging,
	}

	var purged int
	err := w.lock.WithClaim(ctx, job, false, func(ctx context.Context) error {
		n, err := w.index.SoftDeleteScope(ctx, req.EntityType, req.Scope, w.now())
		if err != nil {
			return fmt.Errorf("purge %s %s: %w", req.EntityType, req.Scope.Key(), err)
		}
		purged = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.PurgedRows.WithLabelValues(req.EntityType).Add(float64(purged))
	logger.Info("purge %s %s: %d rows", req.EntityType, req.Scope.Key(), purged)
	return purged, nil
}

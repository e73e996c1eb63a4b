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

// ScopeLock turns job rows into advisory scope locks. A claim is a single
// conditional insert in the job store, so two processes racing for the same
// scope cannot both win.
type ScopeLock struct {
	jobs driven.JobStore
	now  func() time.Time
}

// NewScopeLock creates a scope lock coordinator.
func NewScopeLock(jobs driven.JobStore) *ScopeLock {
	return &ScopeLock{jobs: jobs, now: time.Now}
}

// TryClaim claims the scope of job. With force, conflicting rows are removed
// first. Returns false, without error, when another run holds the scope.
func (l *ScopeLock) TryClaim(ctx context.Context, job *domain.ReindexJob, force bool) (bool, error) {
	now := l.now().UTC()
	job.StartedAt = now
	job.HeartbeatAt = now
	job.FinishedAt = nil

	if force {
		n, err := l.jobs.DeleteConflicting(ctx, job)
		if err != nil {
			return false, fmt.Errorf("clear conflicting jobs: %w", err)
		}
		if n > 0 {
			logger.Warn("lock: force removed %d job(s) on %s %s", n, job.EntityType, job.Scope.Key())
		}
	}

	ok, err := l.jobs.Claim(ctx, job)
	if err != nil {
		return false, fmt.Errorf("claim %s %s: %w", job.EntityType, job.Scope.Key(), err)
	}
	if !ok {
		metrics.LockContention.WithLabelValues(job.EntityType, string(job.Status)).Inc()
	}
	return ok, nil
}

// Release removes the job row.
func (l *ScopeLock) Release(ctx context.Context, job *domain.ReindexJob) error {
	if err := l.jobs.Delete(ctx, job); err != nil {
		return fmt.Errorf("release %s %s: %w", job.EntityType, job.Scope.Key(), err)
	}
	return nil
}

// WithClaim runs fn while holding the scope. The row is released on every
// path out of fn, panics included. Returns domain.ErrLockHeld when the
// scope is taken.
func (l *ScopeLock) WithClaim(ctx context.Context, job *domain.ReindexJob, force bool, fn func(context.Context) error) (err error) {
	ok, err := l.TryClaim(ctx, job, force)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrLockHeld
	}

	defer func() {
		// Release even when ctx was cancelled mid-run.
		if relErr := l.Release(context.WithoutCancel(ctx), job); relErr != nil {
			if err == nil {
				err = relErr
			} else {
				logger.Error("lock: %v", relErr)
			}
		}
	}()

	return fn(ctx)
}

// Heartbeat records progress and refreshes the heartbeat of job.
func (l *ScopeLock) Heartbeat(ctx context.Context, job *domain.ReindexJob) error {
	job.HeartbeatAt = l.now().UTC()
	if err := l.jobs.UpdateProgress(ctx, job); err != nil {
		return fmt.Errorf("heartbeat %s %s: %w", job.EntityType, job.Scope.Key(), err)
	}
	return nil
}

// ReapStale removes jobs that have not sent a heartbeat for olderThan.
func (l *ScopeLock) ReapStale(ctx context.Context, olderThan time.Duration) ([]domain.ReindexJob, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	reaped, err := l.jobs.DeleteStale(ctx, l.now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("reap stale jobs: %w", err)
	}
	return reaped, nil
}

package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// JobStore persists reindex/purge job rows, which double as scope locks.
type JobStore interface {
	// Claim inserts the job only if no conflicting active job exists
	// (see domain.ReindexJob.ConflictsWith). The check and the insert are a
	// single atomic operation. Returns false when the scope is held.
	Claim(ctx context.Context, job *domain.ReindexJob) (bool, error)

	// DeleteConflicting removes every active job that conflicts with job.
	DeleteConflicting(ctx context.Context, job *domain.ReindexJob) (int, error)

	// Delete removes the job row of exactly this scope and partition.
	Delete(ctx context.Context, job *domain.ReindexJob) error

	// UpdateProgress writes counters and the heartbeat of the job row.
	UpdateProgress(ctx context.Context, job *domain.ReindexJob) error

	// List returns active jobs, optionally restricted to one entity type.
	List(ctx context.Context, entityType string) ([]domain.ReindexJob, error)

	// DeleteStale removes jobs whose last heartbeat is before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) ([]domain.ReindexJob, error)
}

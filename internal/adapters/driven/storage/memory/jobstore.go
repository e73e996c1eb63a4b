package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure JobStore implements the interface.
var _ driven.JobStore = (*JobStore)(nil)

// JobStore is an in-memory implementation of driven.JobStore. The mutex makes
// Claim's check-and-insert atomic.
type JobStore struct {
	mu   sync.Mutex
	jobs []domain.ReindexJob
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{}
}

// Claim inserts job unless a conflicting job is active.
func (s *JobStore) Claim(_ context.Context, job *domain.ReindexJob) (bool, error) {
	if job == nil || job.EntityType == "" || !job.Status.IsValid() {
		return false, domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].FinishedAt == nil && s.jobs[i].ConflictsWith(job) {
			return false, nil
		}
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	if job.HeartbeatAt.IsZero() {
		job.HeartbeatAt = job.StartedAt
	}
	s.jobs = append(s.jobs, *job)
	return true, nil
}

// DeleteConflicting removes every job that conflicts with job.
func (s *JobStore) DeleteConflicting(_ context.Context, job *domain.ReindexJob) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeWhere(func(j *domain.ReindexJob) bool { return j.ConflictsWith(job) }), nil
}

// Delete removes the job of exactly this scope and partition.
func (s *JobStore) Delete(_ context.Context, job *domain.ReindexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeWhere(func(j *domain.ReindexJob) bool { return sameSlot(j, job) })
	return nil
}

// UpdateProgress writes counters and the heartbeat.
func (s *JobStore) UpdateProgress(_ context.Context, job *domain.ReindexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if sameSlot(&s.jobs[i], job) {
			s.jobs[i].ProcessedCount = job.ProcessedCount
			s.jobs[i].TotalCount = job.TotalCount
			s.jobs[i].HeartbeatAt = job.HeartbeatAt
		}
	}
	return nil
}

// List returns active jobs, optionally restricted to one entity type.
func (s *JobStore) List(_ context.Context, entityType string) ([]domain.ReindexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ReindexJob
	for _, j := range s.jobs {
		if j.FinishedAt == nil && (entityType == "" || j.EntityType == entityType) {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].EntityType != out[b].EntityType {
			return out[a].EntityType < out[b].EntityType
		}
		return out[a].StartedAt.Before(out[b].StartedAt)
	})
	return out, nil
}

// DeleteStale removes and returns jobs whose last heartbeat is before cutoff.
func (s *JobStore) DeleteStale(_ context.Context, cutoff time.Time) ([]domain.ReindexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []domain.ReindexJob
	s.removeWhere(func(j *domain.ReindexJob) bool {
		if j.IsStale(cutoff) {
			stale = append(stale, *j)
			return true
		}
		return false
	})
	return stale, nil
}

// removeWhere drops matching jobs (caller must hold lock).
func (s *JobStore) removeWhere(match func(*domain.ReindexJob) bool) int {
	kept := s.jobs[:0]
	removed := 0
	for i := range s.jobs {
		if match(&s.jobs[i]) {
			removed++
			continue
		}
		kept = append(kept, s.jobs[i])
	}
	s.jobs = kept
	return removed
}

// sameSlot reports whether two jobs occupy the same (scope, partition) row.
func sameSlot(a, b *domain.ReindexJob) bool {
	slot := func(j *domain.ReindexJob) int {
		if j.Partitioned() {
			return j.PartitionIndex
		}
		return -1
	}
	return a.EntityType == b.EntityType &&
		domain.CanonicalOrg(a.Scope.OrganizationID) == domain.CanonicalOrg(b.Scope.OrganizationID) &&
		a.Scope.TenantID == b.Scope.TenantID &&
		slot(a) == slot(b)
}

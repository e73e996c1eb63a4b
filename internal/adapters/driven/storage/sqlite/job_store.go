package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// jobStore implements driven.JobStore over entity_index_jobs.
type jobStore struct {
	store *Store
}

var _ driven.JobStore = (*jobStore)(nil)

// conflictClause matches active rows of the same scope that may not run next
// to a job with the partition index bound to the last two placeholders (NULL
// for an unpartitioned job).
const conflictClause = `entity_type = ?
	AND COALESCE(organization_id, '') = ?
	AND COALESCE(tenant_id, '') = ?
	AND (partition_index IS NULL OR ? IS NULL OR partition_index = ?)`

// exactClause matches the row of exactly one scope and partition.
const exactClause = `entity_type = ?
	AND COALESCE(organization_id, '') = ?
	AND COALESCE(tenant_id, '') = ?
	AND COALESCE(partition_index, -1) = ?`

func partitionArg(job *domain.ReindexJob) any {
	if !job.Partitioned() {
		return nil
	}
	return job.PartitionIndex
}

func conflictArgs(job *domain.ReindexJob) []any {
	p := partitionArg(job)
	return []any{job.EntityType, job.Scope.OrganizationID, job.Scope.TenantID, p, p}
}

func exactArgs(job *domain.ReindexJob) []any {
	p := -1
	if job.Partitioned() {
		p = job.PartitionIndex
	}
	return []any{job.EntityType, job.Scope.OrganizationID, job.Scope.TenantID, p}
}

// Claim inserts the job only if no conflicting active job exists. The
// existence check and the insert are one statement, and the unique index on
// the coalesced scope catches anything that slips between writers.
func (s *jobStore) Claim(ctx context.Context, job *domain.ReindexJob) (bool, error) {
	if job == nil || job.EntityType == "" || !job.Status.IsValid() {
		return false, domain.ErrInvalidInput
	}

	now := time.Now()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	if job.HeartbeatAt.IsZero() {
		job.HeartbeatAt = job.StartedAt
	}

	var partitionCount any
	if job.Partitioned() {
		partitionCount = job.PartitionCount
	}

	args := []any{
		job.EntityType, nullString(job.Scope.OrganizationID), nullString(job.Scope.TenantID),
		partitionArg(job), partitionCount, job.ProcessedCount, job.TotalCount,
		formatTime(job.HeartbeatAt), string(job.Status), formatTime(job.StartedAt),
	}
	args = append(args, conflictArgs(job)...)

	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO entity_index_jobs
			(entity_type, organization_id, tenant_id, partition_index, partition_count,
			 processed_count, total_count, heartbeat_at, status, started_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM entity_index_jobs
			WHERE finished_at IS NULL AND `+conflictClause+`
		)
		ON CONFLICT DO NOTHING
	`, args...)
	if err != nil {
		return false, fmt.Errorf("claiming scope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming scope: %w", err)
	}
	return n == 1, nil
}

// DeleteConflicting removes every row that conflicts with job.
func (s *jobStore) DeleteConflicting(ctx context.Context, job *domain.ReindexJob) (int, error) {
	res, err := s.store.db.ExecContext(ctx,
		"DELETE FROM entity_index_jobs WHERE "+conflictClause, conflictArgs(job)...)
	if err != nil {
		return 0, fmt.Errorf("clearing conflicting jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing conflicting jobs: %w", err)
	}
	return int(n), nil
}

// Delete removes the job row of exactly this scope and partition.
func (s *jobStore) Delete(ctx context.Context, job *domain.ReindexJob) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM entity_index_jobs WHERE "+exactClause, exactArgs(job)...)
	if err != nil {
		return fmt.Errorf("releasing scope: %w", err)
	}
	return nil
}

// UpdateProgress writes counters and the heartbeat.
func (s *jobStore) UpdateProgress(ctx context.Context, job *domain.ReindexJob) error {
	args := append([]any{job.ProcessedCount, job.TotalCount, formatTime(job.HeartbeatAt)}, exactArgs(job)...)
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE entity_index_jobs
		SET processed_count = ?, total_count = ?, heartbeat_at = ?
		WHERE finished_at IS NULL AND `+exactClause, args...)
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

// List returns active jobs, optionally restricted to one entity type.
func (s *jobStore) List(ctx context.Context, entityType string) ([]domain.ReindexJob, error) {
	query := `
		SELECT entity_type, organization_id, tenant_id, partition_index, partition_count,
			processed_count, total_count, heartbeat_at, status, started_at, finished_at
		FROM entity_index_jobs
		WHERE finished_at IS NULL`
	var args []any
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, entityType)
	}
	query += " ORDER BY entity_type, started_at"

	return s.query(ctx, query, args...)
}

// DeleteStale removes and returns jobs whose last heartbeat is before cutoff.
func (s *jobStore) DeleteStale(ctx context.Context, cutoff time.Time) ([]domain.ReindexJob, error) {
	stamp := formatTime(cutoff)
	stale, err := s.query(ctx, `
		SELECT entity_type, organization_id, tenant_id, partition_index, partition_count,
			processed_count, total_count, heartbeat_at, status, started_at, finished_at
		FROM entity_index_jobs
		WHERE heartbeat_at < ?
		ORDER BY started_at
	`, stamp)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if _, err := s.store.db.ExecContext(ctx,
		"DELETE FROM entity_index_jobs WHERE heartbeat_at < ?", stamp); err != nil {
		return nil, fmt.Errorf("reaping stale jobs: %w", err)
	}
	return stale, nil
}

func (s *jobStore) query(ctx context.Context, query string, args ...any) ([]domain.ReindexJob, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ReindexJob //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			job                    domain.ReindexJob
			orgID, tenantID        sql.NullString
			partIndex, partCount   sql.NullInt64
			heartbeatAt, startedAt string
			status                 string
			finishedAt             sql.NullString
		)
		if err := rows.Scan(&job.EntityType, &orgID, &tenantID, &partIndex, &partCount,
			&job.ProcessedCount, &job.TotalCount, &heartbeatAt, &status, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Scope = domain.Scope{TenantID: tenantID.String, OrganizationID: orgID.String}
		job.PartitionIndex = int(partIndex.Int64)
		job.PartitionCount = int(partCount.Int64)
		job.HeartbeatAt = parseTime(heartbeatAt)
		job.Status = domain.JobStatus(status)
		job.StartedAt = parseTime(startedAt)
		job.FinishedAt = parseTimePtr(finishedAt)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

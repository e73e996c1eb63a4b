package driving

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// ReindexOptions narrows and tunes a reindex request.
type ReindexOptions struct {
	TenantID       string
	OrganizationID string

	// Force reprocesses every in-scope record and reclaims a held scope.
	Force bool

	BatchSize      int
	PartitionCount int
	PartitionIndex int
}

// QueryIndexService is the API/CLI facing surface of the engine.
// Trigger methods return once the request is scheduled; failures surface
// through coverage, status and the indexer log.
type QueryIndexService interface {
	// TriggerReindex schedules a reindex of an entity type.
	TriggerReindex(ctx context.Context, entityType string, opts ReindexOptions) error

	// TriggerPurge schedules a soft-delete sweep of an entity type's scope.
	TriggerPurge(ctx context.Context, entityType string, scope domain.Scope) error

	// SyncRecord reconciles one record immediately.
	SyncRecord(ctx context.Context, event domain.SyncEvent) (domain.SyncOutcome, error)

	// GetCoverage recomputes and returns the coverage of a scope.
	GetCoverage(ctx context.Context, entityType string, scope domain.Scope) (*domain.IndexCoverage, error)

	// ListIndexStatus returns one health line per known entity type.
	ListIndexStatus(ctx context.Context) ([]domain.IndexStatus, error)

	// RecentLogs returns the newest indexer log entries.
	RecentLogs(ctx context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error)
}

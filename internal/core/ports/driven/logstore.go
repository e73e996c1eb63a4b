package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// LogStore is the append-only store of indexer log entries.
type LogStore interface {
	// Append writes one entry.
	Append(ctx context.Context, entry *domain.IndexerLogEntry) error

	// List returns the most recent entries matching filter, newest first.
	List(ctx context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error)

	// Prune removes all but the most recent keep entries.
	Prune(ctx context.Context, keep int) (int, error)
}

package driving

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// Scheduler runs maintenance tasks: coverage refresh, stale job reaping and
// log pruning.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error

	// Tasks lists the stored tasks with their most recent results.
	Tasks(ctx context.Context) ([]domain.TaskStatus, error)
}

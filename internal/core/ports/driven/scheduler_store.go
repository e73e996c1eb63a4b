package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// SchedulerStore keeps maintenance task state so intervals survive worker
// restarts.
type SchedulerStore interface {
	// GetTask returns nil and no error when the task is unknown.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask inserts or replaces the task with the same ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	// CompleteRun stores a task's post-run state together with the run's
	// result and drops all but the newest keep results of that task.
	// Either all three changes land or none does.
	CompleteRun(ctx context.Context, task *domain.ScheduledTask, result *domain.TaskResult, keep int) error

	// GetTaskHistory returns up to limit results, newest first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)
}

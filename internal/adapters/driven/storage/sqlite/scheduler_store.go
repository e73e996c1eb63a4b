package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// schedulerStore implements driven.SchedulerStore over scheduled_tasks and
// task_results.
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

const taskColumns = `id, name, interval_seconds, last_run, next_run, last_error, last_success, enabled`

const upsertTask = `
	INSERT INTO scheduled_tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		interval_seconds = excluded.interval_seconds,
		last_run = excluded.last_run,
		next_run = excluded.next_run,
		last_error = excluded.last_error,
		last_success = excluded.last_success,
		enabled = excluded.enabled`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?", taskID)

	task, err := scanScheduledTask(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("reading task %s: %w", taskID, err)
	}
	return task, nil
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM scheduled_tasks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, fmt.Errorf("reading task row: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	if err := writeTask(ctx, s.store.db, task); err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

// CompleteRun writes the task row, appends the result and trims the task's
// history in one transaction.
func (s *schedulerStore) CompleteRun(ctx context.Context, task *domain.ScheduledTask, result *domain.TaskResult, keep int) error {
	if task == nil || result == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	if result.TaskID == "" {
		result.TaskID = task.ID
	}
	if result.TaskID != task.ID {
		return fmt.Errorf("%w: result for %s recorded against %s", domain.ErrInvalidInput, result.TaskID, task.ID)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := writeTask(ctx, tx, task); err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, formatTime(result.StartedAt), formatTime(result.EndedAt),
		boolToInt(result.Success), nullString(result.Error), result.ItemsProcessed); err != nil {
		return fmt.Errorf("appending result for %s: %w", task.ID, err)
	}

	if keep > 0 {
		// Ties on started_at fall back to insertion order.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_results
			WHERE task_id = ? AND id NOT IN (
				SELECT id FROM task_results
				WHERE task_id = ?
				ORDER BY started_at DESC, id DESC
				LIMIT ?
			)
		`, task.ID, task.ID, keep); err != nil {
			return fmt.Errorf("trimming history of %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT started_at, ended_at, success, error, items_processed
		FROM task_results
		WHERE task_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", taskID, err)
	}
	defer rows.Close()

	results := make([]domain.TaskResult, 0, limit)
	for rows.Next() {
		var (
			startedAt, endedAt string
			success            int
			errMsg             sql.NullString
		)
		r := domain.TaskResult{TaskID: taskID}
		if err := rows.Scan(&startedAt, &endedAt, &success, &errMsg, &r.ItemsProcessed); err != nil {
			return nil, fmt.Errorf("reading result row: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		r.EndedAt = parseTime(endedAt)
		r.Success = success == 1
		r.Error = errMsg.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func writeTask(ctx context.Context, db execer, task *domain.ScheduledTask) error {
	_, err := db.ExecContext(ctx, upsertTask,
		task.ID, task.Name, int64(task.Interval/time.Second),
		formatNullableTime(task.LastRun), formatNullableTime(task.NextRun),
		nullString(task.LastError), formatNullableTime(task.LastSuccess),
		boolToInt(task.Enabled))
	return err
}

// scanScheduledTask reads a row selected with taskColumns. sql.ErrNoRows is
// passed through unwrapped.
func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	var (
		task                          domain.ScheduledTask
		seconds                       int64
		lastRun, nextRun, lastSuccess sql.NullString
		lastError                     sql.NullString
		enabled                       int
	)
	if err := row.Scan(&task.ID, &task.Name, &seconds,
		&lastRun, &nextRun, &lastError, &lastSuccess, &enabled); err != nil {
		return nil, err
	}

	task.Interval = time.Duration(seconds) * time.Second
	task.LastRun = parseNullableTime(lastRun)
	task.NextRun = parseNullableTime(nextRun)
	task.LastError = lastError.String
	task.LastSuccess = parseNullableTime(lastSuccess)
	task.Enabled = enabled != 0
	return &task, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
	"github.com/custodia-labs/queryindex/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyRetention is how many results are kept per task.
const historyRetention = 100

// recentResults is how many results Tasks reports per task.
const recentResults = 5

// Scheduler runs the maintenance tasks of a worker process.
// Task state lives in the scheduler store so intervals survive restarts.
type Scheduler struct {
	config     domain.SchedulerConfig
	store      driven.SchedulerStore
	coverage   *CoverageAccountant
	backfill   *EmbeddingBackfill
	lock       *ScopeLock
	sink       *LogSink
	staleAfter time.Duration
	tick       time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Collaborators may be nil; the tasks
// that need them then do nothing.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	coverage *CoverageAccountant,
	backfill *EmbeddingBackfill,
	lock *ScopeLock,
	sink *LogSink,
	staleAfter time.Duration,
) *Scheduler {
	return &Scheduler{
		config:     config,
		store:      store,
		coverage:   coverage,
		backfill:   backfill,
		lock:       lock,
		sink:       sink,
		staleAfter: staleAfter,
		tick:       time.Minute,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if !s.config.Enabled {
		logger.Info("scheduler: disabled")
		<-mergeDone(ctx, stopCh)
		return nil
	}

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Error("scheduler: failed to initialise tasks: %v", err)
	}
	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler and waits for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Tasks reports every stored task with its latest results. It reads the
// store only, so it works while no worker is running.
func (s *Scheduler) Tasks(ctx context.Context) ([]domain.TaskStatus, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]domain.TaskStatus, 0, len(tasks))
	for i := range tasks {
		recent, err := s.store.GetTaskHistory(ctx, tasks[i].ID, recentResults)
		if err != nil {
			return nil, fmt.Errorf("reading history of %s: %w", tasks[i].ID, err)
		}
		out = append(out, domain.TaskStatus{Task: tasks[i], Recent: recent})
	}
	return out, nil
}

var taskNames = map[string]string{
	domain.TaskIDCoverageRefresh: "Coverage Refresh",
	domain.TaskIDStaleJobReaper:  "Stale Job Reaper",
	domain.TaskIDLogPrune:        "Indexer Log Prune",
}

// initialiseTasks writes the configured tasks to the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	for _, id := range []string{domain.TaskIDCoverageRefresh, domain.TaskIDStaleJobReaper, domain.TaskIDLogPrune} {
		if err := s.ensureTask(ctx, id, taskNames[id], s.config.GetTaskConfig(id)); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		if !cfg.Enabled {
			return nil
		}
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  true,
			// First run on the first check.
			NextRun: time.Now(),
		}
	} else {
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = time.Now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, stopCh chan struct{}) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Error("scheduler: failed to list tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		task := tasks[i]
		if task.Due(now) {
			s.runTask(ctx, &task)
		}
	}
}

// runTask executes a single task in its own goroutine.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: time.Now(),
		}

		n, err := s.execute(ctx, task.ID)
		result.ItemsProcessed = n
		result.EndedAt = time.Now()
		if err != nil {
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Error("scheduler: task %s failed: %v", task.ID, err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		// State is written even when ctx is done so the next start sees it.
		if err := s.store.CompleteRun(context.WithoutCancel(ctx), task, result, historyRetention); err != nil {
			logger.Error("scheduler: failed to record run of %s: %v", task.ID, err)
		}
	}()
}

// execute dispatches a task by id.
func (s *Scheduler) execute(ctx context.Context, taskID string) (int, error) {
	switch taskID {
	case domain.TaskIDCoverageRefresh:
		var refreshed int
		var refreshErr error
		if s.coverage != nil {
			refreshed, refreshErr = s.coverage.Refresh(ctx)
		}
		requeued, err := s.backfill.Run(ctx)
		if err != nil {
			err = fmt.Errorf("embedding backfill: %w", err)
		}
		return refreshed + requeued, errors.Join(refreshErr, err)
	case domain.TaskIDStaleJobReaper:
		if s.lock == nil {
			return 0, nil
		}
		reaped, err := s.lock.ReapStale(ctx, s.staleAfter)
		for i := range reaped {
			s.sink.Warn(ctx, domain.IndexerLogEntry{
				Source:     "scheduler",
				Handler:    domain.TaskIDStaleJobReaper,
				EntityType: reaped[i].EntityType,
				Scope:      reaped[i].Scope,
				Message:    fmt.Sprintf("removed stale %s job, last heartbeat %s", reaped[i].Status, reaped[i].HeartbeatAt.Format(time.RFC3339)),
			})
		}
		return len(reaped), err
	case domain.TaskIDLogPrune:
		return s.sink.Prune(ctx, domain.LogRetention)
	default:
		return 0, fmt.Errorf("unknown task %q", taskID)
	}
}

// mergeDone closes when either ctx is done or stop is closed.
func mergeDone(ctx context.Context, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return done
}

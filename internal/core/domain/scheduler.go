package domain

import "time"

// Task IDs for built-in maintenance tasks.
const (
	TaskIDCoverageRefresh = "coverage-refresh"
	TaskIDStaleJobReaper  = "stale-job-reaper"
	TaskIDLogPrune        = "log-prune"
)

// LogRetention is how many indexer log entries the prune task keeps.
const LogRetention = 10000

// ScheduledTask represents a recurring maintenance task.
type ScheduledTask struct {
	ID          string
	Name        string
	Interval    time.Duration
	LastRun     time.Time
	NextRun     time.Time
	LastError   string
	LastSuccess time.Time
	Enabled     bool
}

// Due reports whether the task should run at now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// TaskResult represents the outcome of a task execution.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// ItemsProcessed counts what the task touched (snapshots, reaped jobs, pruned entries).
	ItemsProcessed int
}

// TaskStatus pairs a task with its latest results, newest first.
type TaskStatus struct {
	Task   ScheduledTask
	Recent []TaskResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool

	// TaskConfigs holds per-task configuration.
	TaskConfigs map[string]TaskConfig
}

// TaskConfig holds configuration for a single task.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// GetTaskConfig returns the configuration for a specific task.
// Returns a zero TaskConfig if the task is not configured.
func (c SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	if c.TaskConfigs == nil {
		return TaskConfig{}
	}
	return c.TaskConfigs[taskID]
}

// SchedulerConfigFor derives the maintenance schedule from settings.
// The stale job reaper only runs when a staleness threshold is configured.
func SchedulerConfigFor(s Settings) SchedulerConfig {
	reaperInterval := s.Jobs.StaleAfter / 2
	if reaperInterval < time.Minute {
		reaperInterval = time.Minute
	}
	return SchedulerConfig{
		Enabled: true,
		TaskConfigs: map[string]TaskConfig{
			TaskIDCoverageRefresh: {
				Enabled:  s.Coverage.Interval > 0,
				Interval: s.Coverage.Interval,
			},
			TaskIDStaleJobReaper: {
				Enabled:  s.Jobs.StaleAfter > 0,
				Interval: reaperInterval,
			},
			TaskIDLogPrune: {
				Enabled:  true,
				Interval: 6 * time.Hour,
			},
		},
	}
}

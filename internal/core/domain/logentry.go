package domain

import "time"

// LogLevel is the severity of an indexer log entry.
type LogLevel string

// Log levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IndexerLogEntry is an append-only record of a handler failure or a
// lifecycle event.
type IndexerLogEntry struct {
	ID         string
	Source     string
	Handler    string
	Level      LogLevel
	EntityType string
	RecordID   string
	Scope      Scope
	Message    string
	Details    map[string]any
	OccurredAt time.Time
}

// LogFilter narrows a log listing. Empty fields do not filter.
type LogFilter struct {
	EntityType string
	Level      LogLevel
	Handler    string
}

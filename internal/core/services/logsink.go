package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
)

// LogSink records handler failures and lifecycle events in the indexer log
// and mirrors them to the process logger. Writing to the sink never fails
// the caller: store errors are reported to the process logger and dropped.
type LogSink struct {
	store driven.LogStore
	now   func() time.Time
}

// NewLogSink creates a log sink. A nil store only mirrors to the logger.
func NewLogSink(store driven.LogStore) *LogSink {
	return &LogSink{store: store, now: time.Now}
}

// Info records an informational entry.
func (s *LogSink) Info(ctx context.Context, entry domain.IndexerLogEntry) {
	s.write(ctx, domain.LogInfo, entry)
}

// Warn records a warning.
func (s *LogSink) Warn(ctx context.Context, entry domain.IndexerLogEntry) {
	s.write(ctx, domain.LogWarn, entry)
}

// Error records a failure.
func (s *LogSink) Error(ctx context.Context, entry domain.IndexerLogEntry) {
	s.write(ctx, domain.LogError, entry)
}

func (s *LogSink) write(ctx context.Context, level domain.LogLevel, entry domain.IndexerLogEntry) {
	entry.ID = uuid.NewString()
	entry.Level = level
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
		if s != nil && s.now != nil {
			entry.OccurredAt = s.now().UTC()
		}
	}

	line := "%s %s %s %s: %s"
	args := []any{entry.Handler, entry.EntityType, entry.RecordID, entry.Scope.Key(), entry.Message}
	switch level {
	case domain.LogError:
		logger.Error(line, args...)
	case domain.LogWarn:
		logger.Warn(line, args...)
	default:
		logger.Info(line, args...)
	}

	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Append(context.WithoutCancel(ctx), &entry); err != nil {
		logger.Error("log sink: append failed: %v", err)
	}
}

// Recent returns the newest entries matching filter.
func (s *LogSink) Recent(ctx context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx, filter, limit)
}

// Prune keeps only the newest keep entries.
func (s *LogSink) Prune(ctx context.Context, keep int) (int, error) {
	if s == nil || s.store == nil {
		return 0, nil
	}
	return s.store.Prune(ctx, keep)
}

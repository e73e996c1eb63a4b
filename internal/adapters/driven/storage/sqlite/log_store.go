package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// logStore implements driven.LogStore over indexer_logs.
type logStore struct {
	store *Store
}

var _ driven.LogStore = (*logStore)(nil)

// Append writes one entry.
func (s *logStore) Append(ctx context.Context, e *domain.IndexerLogEntry) error {
	if e == nil || e.ID == "" {
		return domain.ErrInvalidInput
	}

	var details any
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling details: %w", err)
		}
		details = string(data)
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO indexer_logs
			(id, source, handler, level, entity_type, record_id, tenant_id, organization_id,
			 message, details, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Source, e.Handler, string(e.Level), nullString(e.EntityType), nullString(e.RecordID),
		nullString(e.Scope.TenantID), nullString(e.Scope.OrganizationID),
		e.Message, details, formatTime(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	return nil
}

// List returns the most recent entries matching filter, newest first.
func (s *logStore) List(ctx context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error) {
	query := `
		SELECT id, source, handler, level, entity_type, record_id, tenant_id, organization_id,
			message, details, occurred_at
		FROM indexer_logs WHERE 1 = 1`
	var args []any
	if filter.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, filter.EntityType)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filter.Level))
	}
	if filter.Handler != "" {
		query += " AND handler = ?"
		args = append(args, filter.Handler)
	}
	query += " ORDER BY occurred_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying log entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.IndexerLogEntry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			e                  domain.IndexerLogEntry
			level, occurredAt  string
			entityType, record sql.NullString
			tenantID, orgID    sql.NullString
			details            sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Handler, &level, &entityType, &record,
			&tenantID, &orgID, &e.Message, &details, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		e.Level = domain.LogLevel(level)
		e.EntityType = entityType.String
		e.RecordID = record.String
		e.Scope = domain.Scope{TenantID: tenantID.String, OrganizationID: orgID.String}
		e.OccurredAt = parseTime(occurredAt)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshalling details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log entries: %w", err)
	}
	return entries, nil
}

// Prune removes all but the most recent keep entries.
func (s *logStore) Prune(ctx context.Context, keep int) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM indexer_logs
		WHERE rowid NOT IN (
			SELECT rowid FROM indexer_logs ORDER BY occurred_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning log entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning log entries: %w", err)
	}
	return int(n), nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// indexStore implements driven.IndexStore over the entity_indexes table.
// Every lookup goes through the coalesced organisation key, the same
// expression the unique index is built on.
type indexStore struct {
	store *Store
}

var _ driven.IndexStore = (*indexStore)(nil)

const keyClause = "entity_type = ? AND entity_id = ? AND COALESCE(organization_id, '') = ?"

func keyArgs(key domain.IndexKey) []any {
	return []any{key.EntityType, key.EntityID, key.OrgKey()}
}

// Upsert creates or updates the row for doc.Key().
// Concurrent first inserts of the same key race on the unique index; the
// loser retries and takes the update path.
func (s *indexStore) Upsert(ctx context.Context, doc *domain.IndexedDocument) (domain.UpsertResult, error) {
	if doc == nil || doc.EntityType == "" || doc.EntityID == "" {
		return domain.UpsertResult{}, domain.ErrInvalidInput
	}

	docJSON, err := json.Marshal(doc.Doc)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("marshalling doc: %w", err)
	}
	version := doc.IndexVersion
	if version == 0 {
		version = domain.CurrentIndexVersion
	}

	result, err := s.upsert(ctx, doc, string(docJSON), version)
	if isUniqueViolation(err) {
		result, err = s.upsert(ctx, doc, string(docJSON), version)
	}
	return result, err
}

func (s *indexStore) upsert(ctx context.Context, doc *domain.IndexedDocument, docJSON string, version int) (domain.UpsertResult, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		id            int64
		storedDoc     string
		storedTenant  sql.NullString
		storedVersion int
		storedDeleted sql.NullString
		result        domain.UpsertResult
	)
	now := formatTime(time.Now())
	key := doc.Key()

	err = tx.QueryRowContext(ctx, `
		SELECT id, doc, tenant_id, index_version, deleted_at
		FROM entity_indexes WHERE `+keyClause, keyArgs(key)...,
	).Scan(&id, &storedDoc, &storedTenant, &storedVersion, &storedDeleted)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_indexes
				(entity_type, entity_id, organization_id, tenant_id, doc, index_version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, doc.EntityType, doc.EntityID, nullString(doc.OrganizationID), nullString(doc.TenantID),
			docJSON, version, now, now)
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("inserting index row: %w", err)
		}
		result = domain.UpsertResult{Created: true, Changed: true}

	case err != nil:
		return domain.UpsertResult{}, fmt.Errorf("reading index row: %w", err)

	default:
		changed := storedDoc != docJSON ||
			storedTenant.String != doc.TenantID ||
			storedVersion != version ||
			storedDeleted.Valid
		if changed {
			_, err = tx.ExecContext(ctx, `
				UPDATE entity_indexes
				SET doc = ?, organization_id = ?, tenant_id = ?, index_version = ?,
					updated_at = ?, deleted_at = NULL
				WHERE id = ?
			`, docJSON, nullString(doc.OrganizationID), nullString(doc.TenantID), version, now, id)
			if err != nil {
				return domain.UpsertResult{}, fmt.Errorf("updating index row: %w", err)
			}
		}
		result = domain.UpsertResult{Changed: changed}
	}

	if err := tx.Commit(); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("committing transaction: %w", err)
	}
	return result, nil
}

// SoftDelete marks the live row for key as deleted.
func (s *indexStore) SoftDelete(ctx context.Context, key domain.IndexKey, at time.Time) (bool, error) {
	stamp := formatTime(at)
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE entity_indexes SET deleted_at = ?, updated_at = ?
		WHERE `+keyClause+` AND deleted_at IS NULL
	`, append([]any{stamp, stamp}, keyArgs(key)...)...)
	if err != nil {
		return false, fmt.Errorf("soft-deleting index row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft-deleting index row: %w", err)
	}
	return n > 0, nil
}

// SoftDeleteScope marks every live row of entityType within scope as deleted.
func (s *indexStore) SoftDeleteScope(ctx context.Context, entityType string, scope domain.Scope, at time.Time) (int, error) {
	stamp := formatTime(at)
	filter, filterArgs := scopeFilter("organization_id", "tenant_id", scope)
	args := append([]any{stamp, stamp, entityType}, filterArgs...)

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE entity_indexes SET deleted_at = ?, updated_at = ?
		WHERE entity_type = ? AND deleted_at IS NULL`+filter, args...)
	if err != nil {
		return 0, fmt.Errorf("purging index rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging index rows: %w", err)
	}
	return int(n), nil
}

// Get returns the row for key, including soft-deleted rows.
func (s *indexStore) Get(ctx context.Context, key domain.IndexKey) (*domain.IndexedDocument, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, organization_id, tenant_id, doc, embedding,
			index_version, created_at, updated_at, deleted_at
		FROM entity_indexes WHERE `+keyClause, keyArgs(key)...)

	var (
		doc                  domain.IndexedDocument
		orgID, tenantID      sql.NullString
		docJSON              string
		embedding            []byte
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	if err := row.Scan(&doc.EntityType, &doc.EntityID, &orgID, &tenantID, &docJSON, &embedding,
		&doc.IndexVersion, &createdAt, &updatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning index row: %w", err)
	}

	if err := json.Unmarshal([]byte(docJSON), &doc.Doc); err != nil {
		return nil, fmt.Errorf("unmarshalling doc: %w", err)
	}
	doc.OrganizationID = orgID.String
	doc.TenantID = tenantID.String
	doc.Embedding = bytesToFloat32Slice(embedding)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	doc.DeletedAt = parseTimePtr(deletedAt)

	return &doc, nil
}

// SetEmbedding writes the embedding of a live row. The document and
// updated_at are left alone.
func (s *indexStore) SetEmbedding(ctx context.Context, key domain.IndexKey, embedding []float32) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE entity_indexes SET embedding = ?
		WHERE `+keyClause+` AND deleted_at IS NULL
	`, append([]any{float32SliceToBytes(embedding)}, keyArgs(key)...)...)
	if err != nil {
		return fmt.Errorf("writing embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("writing embedding: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUnembedded pages through live rows with a NULL embedding.
func (s *indexStore) ListUnembedded(ctx context.Context, entityType string, after domain.IndexKey, limit int) ([]domain.SyncEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity_id, COALESCE(tenant_id, ''), COALESCE(organization_id, '')
		FROM entity_indexes
		WHERE entity_type = ? AND deleted_at IS NULL AND embedding IS NULL
			AND (entity_id > ? OR (entity_id = ? AND COALESCE(organization_id, '') > ?))
		ORDER BY entity_id, COALESCE(organization_id, '')
		LIMIT ?
	`, entityType, after.EntityID, after.EntityID, after.OrgKey(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing unembedded rows: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncEvent
	for rows.Next() {
		ev := domain.SyncEvent{EntityType: entityType}
		if err := rows.Scan(&ev.RecordID, &ev.TenantID, &ev.OrganizationID); err != nil {
			return nil, fmt.Errorf("scanning unembedded row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns live rows and live rows with an embedding within scope.
func (s *indexStore) Count(ctx context.Context, entityType string, scope domain.Scope) (int, int, error) {
	filter, filterArgs := scopeFilter("organization_id", "tenant_id", scope)
	args := append([]any{entityType}, filterArgs...)

	var indexed, vectorIndexed int
	err := s.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding)
		FROM entity_indexes
		WHERE entity_type = ? AND deleted_at IS NULL`+filter, args...,
	).Scan(&indexed, &vectorIndexed)
	if err != nil {
		return 0, 0, fmt.Errorf("counting index rows: %w", err)
	}
	return indexed, vectorIndexed, nil
}

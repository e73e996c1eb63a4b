package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// CustomEntityStore manages runtime-defined entity types, their records and
// their dynamic attribute values.
type CustomEntityStore struct {
	store *Store
}

var _ driven.DynamicEntityTypeSource = (*CustomEntityStore)(nil)

// ListDynamicEntityTypes returns descriptors of the active runtime types.
func (s *CustomEntityStore) ListDynamicEntityTypes(ctx context.Context) ([]domain.EntityTypeDescriptor, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity_id, label FROM custom_entity_types
		WHERE is_active = 1
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying custom entity types: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityTypeDescriptor //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("scanning custom entity type: %w", err)
		}
		out = append(out, domain.DynamicDescriptor(id, label))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating custom entity types: %w", err)
	}
	return out, nil
}

// DefineEntityType creates or reactivates a runtime entity type.
func (s *CustomEntityStore) DefineEntityType(ctx context.Context, id, label string) error {
	desc := domain.DynamicDescriptor(id, label)
	if err := desc.Validate(); err != nil {
		return err
	}
	now := formatTime(time.Now())
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO custom_entity_types (entity_id, label, is_active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			label = excluded.label,
			is_active = 1,
			updated_at = excluded.updated_at
	`, id, label, now, now)
	if err != nil {
		return fmt.Errorf("defining entity type: %w", err)
	}
	return nil
}

// DeactivateEntityType hides a runtime entity type from the registry.
func (s *CustomEntityStore) DeactivateEntityType(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx,
		"UPDATE custom_entity_types SET is_active = 0, updated_at = ? WHERE entity_id = ?",
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("deactivating entity type: %w", err)
	}
	return nil
}

// SaveRecord creates or revives a record of a runtime entity type.
func (s *CustomEntityStore) SaveRecord(ctx context.Context, entityType, recordID string, scope domain.Scope) error {
	now := formatTime(time.Now())
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO custom_entity_records
			(entity_type, record_id, organization_id, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, record_id) DO UPDATE SET
			organization_id = excluded.organization_id,
			tenant_id = excluded.tenant_id,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, entityType, recordID, nullString(scope.OrganizationID), nullString(scope.TenantID), now, now)
	if err != nil {
		return fmt.Errorf("saving custom record: %w", err)
	}
	return nil
}

// DeleteRecord soft-deletes a record and its attribute values.
func (s *CustomEntityStore) DeleteRecord(ctx context.Context, entityType, recordID string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE custom_entity_records SET deleted_at = ?, updated_at = ?
		WHERE entity_type = ? AND record_id = ? AND deleted_at IS NULL
	`, now, now, entityType, recordID); err != nil {
		return fmt.Errorf("deleting custom record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE custom_field_values SET deleted_at = ?
		WHERE entity_type = ? AND record_id = ? AND deleted_at IS NULL
	`, now, entityType, recordID); err != nil {
		return fmt.Errorf("deleting custom field values: %w", err)
	}
	return tx.Commit()
}

// SetFieldValues replaces the values of one attribute. Several values make
// the attribute multi-valued.
func (s *CustomEntityStore) SetFieldValues(ctx context.Context, entityType, recordID string, scope domain.Scope, key string, values ...any) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM custom_field_values
		WHERE entity_type = ? AND record_id = ? AND field_key = ?
	`, entityType, recordID, key); err != nil {
		return fmt.Errorf("clearing field values: %w", err)
	}

	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling field value: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO custom_field_values
				(entity_type, record_id, organization_id, tenant_id, field_key, value)
			VALUES (?, ?, ?, ?, ?, ?)
		`, entityType, recordID, nullString(scope.OrganizationID), nullString(scope.TenantID),
			key, string(data)); err != nil {
			return fmt.Errorf("writing field value: %w", err)
		}
	}
	return tx.Commit()
}

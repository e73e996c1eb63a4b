package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// coverageStore implements driven.CoverageStore over entity_index_coverage.
type coverageStore struct {
	store *Store
}

var _ driven.CoverageStore = (*coverageStore)(nil)

const coverageKeyClause = `entity_type = ?
	AND COALESCE(tenant_id, '') = ?
	AND COALESCE(organization_id, '') = ?
	AND with_deleted = ?`

const coverageColumns = `entity_type, tenant_id, organization_id, with_deleted,
	base_count, indexed_count, vector_indexed_count, refreshed_at`

// Replace overwrites the snapshot of the coverage's scope tuple. The old row
// is deleted and the new one inserted in one transaction, so readers never
// see a half-written snapshot.
func (s *coverageStore) Replace(ctx context.Context, c *domain.IndexCoverage) error {
	if c == nil || c.EntityType == "" {
		return domain.ErrInvalidInput
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM entity_index_coverage WHERE "+coverageKeyClause,
		c.EntityType, c.Scope.TenantID, c.Scope.OrganizationID, boolToInt(c.WithDeleted)); err != nil {
		return fmt.Errorf("clearing coverage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entity_index_coverage (`+coverageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.EntityType, nullString(c.Scope.TenantID), nullString(c.Scope.OrganizationID),
		boolToInt(c.WithDeleted), c.BaseCount, c.IndexedCount, c.VectorIndexedCount,
		formatTime(c.RefreshedAt)); err != nil {
		return fmt.Errorf("writing coverage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get returns the snapshot of a scope tuple.
func (s *coverageStore) Get(ctx context.Context, entityType string, scope domain.Scope, withDeleted bool) (*domain.IndexCoverage, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+coverageColumns+" FROM entity_index_coverage WHERE "+coverageKeyClause,
		entityType, scope.TenantID, scope.OrganizationID, boolToInt(withDeleted))

	c, err := scanCoverage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns snapshots, optionally restricted to one entity type.
func (s *coverageStore) List(ctx context.Context, entityType string) ([]domain.IndexCoverage, error) {
	query := "SELECT " + coverageColumns + " FROM entity_index_coverage"
	var args []any
	if entityType != "" {
		query += " WHERE entity_type = ?"
		args = append(args, entityType)
	}
	query += " ORDER BY entity_type, COALESCE(tenant_id, ''), COALESCE(organization_id, ''), with_deleted"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying coverage: %w", err)
	}
	defer rows.Close()

	var out []domain.IndexCoverage //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanCoverage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coverage: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoverage(row rowScanner) (*domain.IndexCoverage, error) {
	var (
		c               domain.IndexCoverage
		tenantID, orgID sql.NullString
		withDeleted     int
		refreshedAt     string
	)
	if err := row.Scan(&c.EntityType, &tenantID, &orgID, &withDeleted,
		&c.BaseCount, &c.IndexedCount, &c.VectorIndexedCount, &refreshedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning coverage: %w", err)
	}
	c.Scope = domain.Scope{TenantID: tenantID.String, OrganizationID: orgID.String}
	c.WithDeleted = withDeleted == 1
	c.RefreshedAt = parseTime(refreshedAt)
	return &c, nil
}

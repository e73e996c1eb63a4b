package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// sourceReader implements driven.SourceReader over module tables that live
// in the same database as the index. Table and column names come from
// validated descriptors and are quoted before use.
type sourceReader struct {
	store *Store
}

var _ driven.SourceReader = (*sourceReader)(nil)

// sourceQuery holds the column expressions of one descriptor.
type sourceQuery struct {
	table  string
	id     string
	org    string
	tenant string
	where  []string
	args   []any
}

func newSourceQuery(desc *domain.EntityTypeDescriptor, scope domain.Scope, withDeleted bool) (*sourceQuery, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	q := &sourceQuery{
		table: quoteIdent(desc.BaseTable),
		id:    "s." + quoteIdent(desc.PrimaryKey()),
	}
	if desc.HasOrgColumn {
		q.org = "s." + quoteIdent(domain.DefaultOrgColumn)
	}
	if desc.HasTenantColumn {
		q.tenant = "s." + quoteIdent(domain.DefaultTenantColumn)
	}
	if desc.TypeColumn != "" {
		q.where = append(q.where, "s."+quoteIdent(desc.TypeColumn)+" = ?")
		q.args = append(q.args, desc.ID)
	}
	if desc.HasSoftDeleteColumn && !withDeleted {
		q.where = append(q.where, "s."+quoteIdent(domain.DefaultSoftDeleteColumn)+" IS NULL")
	}
	filter, filterArgs := scopeFilter(q.org, q.tenant, scope)
	if filter != "" {
		q.where = append(q.where, strings.TrimPrefix(filter, " AND "))
		q.args = append(q.args, filterArgs...)
	}
	return q, nil
}

func (q *sourceQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *sourceQuery) orgExpr() string {
	if q.org == "" {
		return "''"
	}
	return "COALESCE(" + q.org + ", '')"
}

func (q *sourceQuery) tenantExpr() string {
	if q.tenant == "" {
		return "''"
	}
	return "COALESCE(" + q.tenant + ", '')"
}

// FetchRecord returns the base row of a live in-scope record as a column map.
func (r *sourceReader) FetchRecord(ctx context.Context, desc *domain.EntityTypeDescriptor, recordID string, scope domain.Scope) (map[string]any, error) {
	q, err := newSourceQuery(desc, scope, false)
	if err != nil {
		return nil, err
	}
	q.where = append([]string{q.id + " = ?"}, q.where...)
	q.args = append([]any{recordID}, q.args...)

	rows, err := r.store.db.QueryContext(ctx, "SELECT s.* FROM "+q.table+" s"+q.whereSQL()+" LIMIT 1", q.args...)
	if err != nil {
		return nil, fmt.Errorf("fetching %s record: %w", desc.ID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetching %s record: %w", desc.ID, err)
		}
		return nil, nil
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning %s record: %w", desc.ID, err)
	}

	record := make(map[string]any, len(cols))
	for i, col := range cols {
		record[col] = normaliseValue(values[i])
	}
	return record, nil
}

// ListAttributeValues returns the dynamic attribute values of a record,
// ordered by key and insertion.
func (r *sourceReader) ListAttributeValues(ctx context.Context, entityType, recordID string, scope domain.Scope) ([]domain.AttributeValue, error) {
	filter, filterArgs := scopeFilter("organization_id", "tenant_id", scope)
	args := append([]any{entityType, recordID}, filterArgs...)

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT field_key, value FROM custom_field_values
		WHERE entity_type = ? AND record_id = ? AND deleted_at IS NULL`+filter+`
		ORDER BY field_key, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attribute values: %w", err)
	}
	defer rows.Close()

	var values []domain.AttributeValue //nolint:prealloc // size unknown from query
	for rows.Next() {
		var key string
		var raw *string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning attribute value: %w", err)
		}
		values = append(values, domain.AttributeValue{Key: key, Value: decodeAttribute(raw)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute values: %w", err)
	}
	return values, nil
}

// ListCandidates returns one keyset page of live in-scope records ordered by
// the text form of their id.
func (r *sourceReader) ListCandidates(ctx context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, opts domain.ListOptions) ([]domain.Candidate, error) {
	q, err := newSourceQuery(desc, scope, false)
	if err != nil {
		return nil, err
	}
	idText := "CAST(" + q.id + " AS TEXT)"

	if opts.AfterID != "" {
		q.where = append(q.where, idText+" > ?")
		q.args = append(q.args, opts.AfterID)
	}
	if opts.OnlyUnindexed {
		q.where = append(q.where, `NOT EXISTS (
			SELECT 1 FROM entity_indexes ei
			WHERE ei.entity_type = ?
				AND ei.entity_id = `+idText+`
				AND COALESCE(ei.organization_id, '') = `+q.orgExpr()+`
				AND ei.deleted_at IS NULL
		)`)
		q.args = append(q.args, desc.ID)
	}

	query := "SELECT " + idText + ", " + q.tenantExpr() + ", " + q.orgExpr() +
		" FROM " + q.table + " s" + q.whereSQL() + " ORDER BY " + idText
	if opts.Limit > 0 {
		query += " LIMIT ?"
		q.args = append(q.args, opts.Limit)
	}

	rows, err := r.store.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s candidates: %w", desc.ID, err)
	}
	defer rows.Close()

	var out []domain.Candidate //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.ID, &c.Scope.TenantID, &c.Scope.OrganizationID); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return out, nil
}

// CountRecords counts in-scope records.
func (r *sourceReader) CountRecords(ctx context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, withDeleted bool) (int, error) {
	q, err := newSourceQuery(desc, scope, withDeleted)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+q.table+" s"+q.whereSQL(), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s records: %w", desc.ID, err)
	}
	return n, nil
}

// ListScopes returns the distinct (tenant, organisation) pairs of the table.
func (r *sourceReader) ListScopes(ctx context.Context, desc *domain.EntityTypeDescriptor) ([]domain.Scope, error) {
	if !desc.HasOrgColumn && !desc.HasTenantColumn {
		return nil, nil
	}
	q, err := newSourceQuery(desc, domain.Scope{}, true)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.db.QueryContext(ctx,
		"SELECT DISTINCT "+q.tenantExpr()+", "+q.orgExpr()+" FROM "+q.table+" s"+q.whereSQL()+
			" ORDER BY 1, 2", q.args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s scopes: %w", desc.ID, err)
	}
	defer rows.Close()

	var scopes []domain.Scope //nolint:prealloc // size unknown from query
	for rows.Next() {
		var sc domain.Scope
		if err := rows.Scan(&sc.TenantID, &sc.OrganizationID); err != nil {
			return nil, fmt.Errorf("scanning scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scopes: %w", err)
	}
	return scopes, nil
}

// quoteIdent quotes an identifier for SQLite.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// normaliseValue converts driver values into JSON friendly ones.
func normaliseValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// decodeAttribute parses a stored attribute value. Values are written as
// JSON; anything else is returned as the raw string.
func decodeAttribute(raw *string) any {
	if raw == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return *raw
	}
	return v
}

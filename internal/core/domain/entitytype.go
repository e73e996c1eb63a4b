package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Default column names used when a descriptor leaves them empty.
const (
	DefaultIDColumn         = "id"
	DefaultOrgColumn        = "organization_id"
	DefaultTenantColumn     = "tenant_id"
	DefaultSoftDeleteColumn = "deleted_at"
)

// CustomRecordsTable stores the records of dynamically defined entity types.
const CustomRecordsTable = "custom_entity_records"

var (
	entityTypePattern = regexp.MustCompile(`^[a-z0-9_]+:[a-z0-9_]+$`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// EntityTypeDescriptor tells the engine where the records of one entity type
// live. Builders and planners depend on descriptors only, never on concrete
// table names.
type EntityTypeDescriptor struct {
	// ID is the namespaced entity type id ("module:entity").
	ID string `yaml:"id"`

	// Label is a human-readable name.
	Label string `yaml:"label"`

	// BaseTable is the source table holding the records.
	BaseTable string `yaml:"table"`

	// IDColumn is the primary key column (default "id").
	IDColumn string `yaml:"id_column"`

	// TypeColumn, when set, restricts a shared table to rows whose column
	// equals the entity type id.
	TypeColumn string `yaml:"type_column"`

	// HasOrgColumn is true when the table has an organization_id column.
	HasOrgColumn bool `yaml:"organization_scoped"`

	// HasTenantColumn is true when the table has a tenant_id column.
	HasTenantColumn bool `yaml:"tenant_scoped"`

	// HasSoftDeleteColumn is true when the table has a deleted_at column.
	HasSoftDeleteColumn bool `yaml:"soft_delete"`

	// Dynamic marks entity types defined at runtime rather than by a module.
	Dynamic bool `yaml:"-"`
}

// Module returns the module part of the entity type id.
func (d *EntityTypeDescriptor) Module() string {
	module, _, _ := strings.Cut(d.ID, ":")
	return module
}

// PrimaryKey returns the id column, defaulting to "id".
func (d *EntityTypeDescriptor) PrimaryKey() string {
	if d.IDColumn == "" {
		return DefaultIDColumn
	}
	return d.IDColumn
}

// RecordScope reads the scope a fetched base row belongs to. Columns the
// table does not have, and NULL values, leave the component empty.
func (d *EntityTypeDescriptor) RecordScope(row map[string]any) Scope {
	var s Scope
	if d.HasOrgColumn {
		s.OrganizationID = columnString(row[DefaultOrgColumn])
	}
	if d.HasTenantColumn {
		s.TenantID = columnString(row[DefaultTenantColumn])
	}
	return s
}

func columnString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Validate checks the descriptor for malformed ids and unsafe identifiers.
// Table and column names end up in SQL text, so they must be plain
// identifiers.
func (d *EntityTypeDescriptor) Validate() error {
	if !entityTypePattern.MatchString(d.ID) {
		return fmt.Errorf("%w: entity type id %q must look like module:entity", ErrInvalidInput, d.ID)
	}
	for _, ident := range []string{d.BaseTable, d.PrimaryKey()} {
		if !identPattern.MatchString(ident) {
			return fmt.Errorf("%w: %s: bad identifier %q", ErrInvalidInput, d.ID, ident)
		}
	}
	if d.TypeColumn != "" && !identPattern.MatchString(d.TypeColumn) {
		return fmt.Errorf("%w: %s: bad type column %q", ErrInvalidInput, d.ID, d.TypeColumn)
	}
	return nil
}

// DynamicDescriptor returns the descriptor of a runtime-defined entity type.
// Dynamic records share one table and are always scoped and soft-deletable.
func DynamicDescriptor(id, label string) EntityTypeDescriptor {
	return EntityTypeDescriptor{
		ID:                  id,
		Label:               label,
		BaseTable:           CustomRecordsTable,
		IDColumn:            "record_id",
		TypeColumn:          "entity_type",
		HasOrgColumn:        true,
		HasTenantColumn:     true,
		HasSoftDeleteColumn: true,
		Dynamic:             true,
	}
}

// Candidate is a source record found by a reindex enumeration, together with
// its own scope values.
type Candidate struct {
	ID    string
	Scope Scope
}

// AttributeValue is one dynamic attribute value attached to a record.
type AttributeValue struct {
	Key   string
	Value any
}

// ListOptions controls candidate enumeration.
type ListOptions struct {
	// OnlyUnindexed restricts the listing to records without a live index row.
	OnlyUnindexed bool

	// AfterID continues a keyset page after this id.
	AfterID string

	// Limit caps the page size.
	Limit int
}

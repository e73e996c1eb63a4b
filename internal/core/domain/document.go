package domain

import "time"

// CurrentIndexVersion is the format version written into every index row.
const CurrentIndexVersion = 1

// CustomFieldPrefix namespaces dynamic attribute values inside a document.
const CustomFieldPrefix = "cf:"

// IndexedDocument is one denormalised row of the entity index.
type IndexedDocument struct {
	// EntityType is the namespaced type id, e.g. "catalog:product".
	EntityType string

	// EntityID is the source record id. No format is assumed.
	EntityID string

	// OrganizationID is the owning organisation, or empty for global rows.
	OrganizationID string

	// TenantID is the owning tenant, or empty.
	TenantID string

	// Doc is the composed document. Its schema belongs to the owning module.
	Doc map[string]any

	// Embedding is written by the vectorisation stage only.
	Embedding []float32

	// IndexVersion is the format version of Doc.
	IndexVersion int

	// CreatedAt is when the row was first written.
	CreatedAt time.Time

	// UpdatedAt moves only when Doc or the scope columns change.
	UpdatedAt time.Time

	// DeletedAt marks a soft-deleted row.
	DeletedAt *time.Time
}

// Key returns the uniqueness key of the row.
func (d *IndexedDocument) Key() IndexKey {
	return IndexKey{
		EntityType:     d.EntityType,
		EntityID:       d.EntityID,
		OrganizationID: d.OrganizationID,
	}
}

// Scope returns the tenant and organisation the row belongs to.
func (d *IndexedDocument) Scope() Scope {
	return Scope{TenantID: d.TenantID, OrganizationID: d.OrganizationID}
}

// IsDeleted reports whether the row is soft-deleted.
func (d *IndexedDocument) IsDeleted() bool {
	return d.DeletedAt != nil
}

// IndexKey identifies an index row: entity type, entity id and the coalesced
// organisation.
type IndexKey struct {
	EntityType     string
	EntityID       string
	OrganizationID string
}

// OrgKey returns the canonical organisation component of the key.
func (k IndexKey) OrgKey() string {
	return CanonicalOrg(k.OrganizationID)
}

// SyncOutcome describes what a single-record synchronisation did.
type SyncOutcome string

// Possible synchronisation outcomes.
const (
	// SyncUpserted means the row was created or its content changed.
	SyncUpserted SyncOutcome = "upserted"

	// SyncUnchanged means the row already matched the source.
	SyncUnchanged SyncOutcome = "unchanged"

	// SyncDeleted means the source record was gone and the row was soft-deleted.
	SyncDeleted SyncOutcome = "deleted"

	// SyncMissing means neither the source record nor a live row existed.
	SyncMissing SyncOutcome = "missing"
)

// UpsertResult is reported by the index store after an upsert.
type UpsertResult struct {
	// Created is true when no row existed for the key.
	Created bool

	// Changed is true when the stored content differed (or the row was revived).
	Changed bool
}

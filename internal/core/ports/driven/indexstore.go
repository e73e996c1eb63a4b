package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// IndexStore persists entity index rows.
// Rows are unique per (entity type, entity id, canonical organisation).
type IndexStore interface {
	// Upsert creates or updates the row for doc.Key(). Doc, scope columns and
	// UpdatedAt are merged, DeletedAt is cleared and the embedding is kept.
	// UpdatedAt only moves when the stored content differs.
	Upsert(ctx context.Context, doc *domain.IndexedDocument) (domain.UpsertResult, error)

	// SoftDelete marks the live row for key as deleted.
	// Returns false when there was no live row.
	SoftDelete(ctx context.Context, key domain.IndexKey, at time.Time) (bool, error)

	// SoftDeleteScope marks every live row of an entity type within scope as
	// deleted and returns the number of rows affected.
	SoftDeleteScope(ctx context.Context, entityType string, scope domain.Scope, at time.Time) (int, error)

	// Get returns the row for key, including soft-deleted rows.
	// Returns domain.ErrNotFound if no row exists.
	Get(ctx context.Context, key domain.IndexKey) (*domain.IndexedDocument, error)

	// SetEmbedding writes the embedding of a live row without touching its
	// document. Returns domain.ErrNotFound if no live row exists.
	SetEmbedding(ctx context.Context, key domain.IndexKey, embedding []float32) error

	// ListUnembedded returns up to limit live rows of an entity type that
	// have no embedding, as events keyed like the rows. Rows are ordered by
	// entity id, then canonical organisation, and start after the given key;
	// a zero key starts at the beginning.
	ListUnembedded(ctx context.Context, entityType string, after domain.IndexKey, limit int) ([]domain.SyncEvent, error)

	// Count returns live rows and live rows with an embedding within scope.
	Count(ctx context.Context, entityType string, scope domain.Scope) (indexed, vectorIndexed int, err error)
}

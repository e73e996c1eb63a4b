package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure IndexStore implements the interface.
var _ driven.IndexStore = (*IndexStore)(nil)

// indexKey is domain.IndexKey with the organisation already canonical.
type indexKey struct {
	entityType string
	entityID   string
	org        string
}

func canonicalKey(k domain.IndexKey) indexKey {
	return indexKey{entityType: k.EntityType, entityID: k.EntityID, org: k.OrgKey()}
}

type indexRow struct {
	doc     domain.IndexedDocument
	docJSON string
}

// IndexStore is an in-memory implementation of driven.IndexStore.
type IndexStore struct {
	mu   sync.RWMutex
	rows map[indexKey]*indexRow
	now  func() time.Time
}

// NewIndexStore creates a new in-memory index store.
func NewIndexStore() *IndexStore {
	return &IndexStore{
		rows: make(map[indexKey]*indexRow),
		now:  time.Now,
	}
}

// Upsert creates or updates the row for doc.Key().
func (s *IndexStore) Upsert(_ context.Context, doc *domain.IndexedDocument) (domain.UpsertResult, error) {
	if doc == nil || doc.EntityType == "" || doc.EntityID == "" {
		return domain.UpsertResult{}, domain.ErrInvalidInput
	}
	// encoding/json sorts map keys, so equal documents encode equally.
	data, err := json.Marshal(doc.Doc)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("marshalling doc: %w", err)
	}
	docJSON := string(data)
	version := doc.IndexVersion
	if version == 0 {
		version = domain.CurrentIndexVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := canonicalKey(doc.Key())
	row, ok := s.rows[key]
	if !ok {
		stored := *doc
		stored.Doc = cloneDoc(doc.Doc)
		stored.Embedding = nil
		stored.IndexVersion = version
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.DeletedAt = nil
		s.rows[key] = &indexRow{doc: stored, docJSON: docJSON}
		return domain.UpsertResult{Created: true, Changed: true}, nil
	}

	changed := row.docJSON != docJSON ||
		row.doc.TenantID != doc.TenantID ||
		row.doc.IndexVersion != version ||
		row.doc.DeletedAt != nil
	if !changed {
		return domain.UpsertResult{}, nil
	}

	row.doc.Doc = cloneDoc(doc.Doc)
	row.doc.OrganizationID = doc.OrganizationID
	row.doc.TenantID = doc.TenantID
	row.doc.IndexVersion = version
	row.doc.UpdatedAt = now
	row.doc.DeletedAt = nil
	row.docJSON = docJSON
	return domain.UpsertResult{Changed: true}, nil
}

// SoftDelete marks the live row for key as deleted.
func (s *IndexStore) SoftDelete(_ context.Context, key domain.IndexKey, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[canonicalKey(key)]
	if !ok || row.doc.DeletedAt != nil {
		return false, nil
	}
	stamp := at.UTC()
	row.doc.DeletedAt = &stamp
	row.doc.UpdatedAt = stamp
	return true, nil
}

// SoftDeleteScope marks every live row of entityType within scope as deleted.
func (s *IndexStore) SoftDeleteScope(_ context.Context, entityType string, scope domain.Scope, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := at.UTC()
	n := 0
	for key, row := range s.rows {
		if key.entityType != entityType || row.doc.DeletedAt != nil {
			continue
		}
		if !scope.Matches(row.doc.TenantID, row.doc.OrganizationID) {
			continue
		}
		deletedAt := stamp
		row.doc.DeletedAt = &deletedAt
		row.doc.UpdatedAt = stamp
		n++
	}
	return n, nil
}

// Get returns a copy of the row for key, including soft-deleted rows.
func (s *IndexStore) Get(_ context.Context, key domain.IndexKey) (*domain.IndexedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[canonicalKey(key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	doc := row.doc
	doc.Doc = cloneDoc(row.doc.Doc)
	if row.doc.Embedding != nil {
		doc.Embedding = append([]float32(nil), row.doc.Embedding...)
	}
	return &doc, nil
}

// IsLive reports whether a live row exists for key.
func (s *IndexStore) IsLive(key domain.IndexKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[canonicalKey(key)]
	return ok && row.doc.DeletedAt == nil
}

// SetEmbedding writes the embedding of a live row.
func (s *IndexStore) SetEmbedding(_ context.Context, key domain.IndexKey, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[canonicalKey(key)]
	if !ok || row.doc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	row.doc.Embedding = append([]float32(nil), embedding...)
	return nil
}

// Count returns live rows and live rows with an embedding within scope.
func (s *IndexStore) Count(_ context.Context, entityType string, scope domain.Scope) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var indexed, vectors int
	for key, row := range s.rows {
		if key.entityType != entityType || row.doc.DeletedAt != nil {
			continue
		}
		if !scope.Matches(row.doc.TenantID, row.doc.OrganizationID) {
			continue
		}
		indexed++
		if len(row.doc.Embedding) > 0 {
			vectors++
		}
	}
	return indexed, vectors, nil
}

// ListUnembedded returns live rows without an embedding in key order.
func (s *IndexStore) ListUnembedded(_ context.Context, entityType string, after domain.IndexKey, limit int) ([]domain.SyncEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := canonicalKey(after)
	var keys []indexKey
	for key, row := range s.rows {
		if key.entityType != entityType || row.doc.DeletedAt != nil || len(row.doc.Embedding) > 0 {
			continue
		}
		if key.entityID < from.entityID || (key.entityID == from.entityID && key.org <= from.org) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].entityID != keys[b].entityID {
			return keys[a].entityID < keys[b].entityID
		}
		return keys[a].org < keys[b].org
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]domain.SyncEvent, 0, len(keys))
	for _, key := range keys {
		doc := s.rows[key].doc
		out = append(out, domain.SyncEvent{
			EntityType: entityType,
			RecordID:   doc.EntityID,
			Scope:      doc.Scope(),
		})
	}
	return out, nil
}

// Len returns the number of rows, live or deleted.
func (s *IndexStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

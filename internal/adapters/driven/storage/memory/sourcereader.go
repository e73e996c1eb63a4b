package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure SourceReader implements the interfaces.
var (
	_ driven.SourceReader            = (*SourceReader)(nil)
	_ driven.DynamicEntityTypeSource = (*SourceReader)(nil)
)

type sourceRecord struct {
	fields    map[string]any
	scope     domain.Scope
	deletedAt *time.Time
}

// SourceReader is an in-memory implementation of driven.SourceReader.
// Records are grouped by entity type; descriptors only decide which scope
// columns take part in filtering. With an index store attached,
// OnlyUnindexed listings skip records that have a live index row.
type SourceReader struct {
	mu         sync.RWMutex
	records    map[string]map[string]*sourceRecord
	attributes map[string]map[string][]domain.AttributeValue
	dynamic    map[string]domain.EntityTypeDescriptor
	index      *IndexStore
}

// NewSourceReader creates a new in-memory source reader.
func NewSourceReader(index *IndexStore) *SourceReader {
	return &SourceReader{
		records:    make(map[string]map[string]*sourceRecord),
		attributes: make(map[string]map[string][]domain.AttributeValue),
		dynamic:    make(map[string]domain.EntityTypeDescriptor),
		index:      index,
	}
}

// Put creates or replaces a live record.
func (s *SourceReader) Put(entityType, id string, scope domain.Scope, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[entityType]
	if !ok {
		byID = make(map[string]*sourceRecord)
		s.records[entityType] = byID
	}
	byID[id] = &sourceRecord{fields: cloneDoc(fields), scope: scope}
}

// SoftDelete marks a record as deleted. Returns false when it is unknown.
func (s *SourceReader) SoftDelete(entityType, id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[entityType][id]
	if !ok {
		return false
	}
	stamp := at.UTC()
	rec.deletedAt = &stamp
	return true
}

// Remove deletes a record outright.
func (s *SourceReader) Remove(entityType, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[entityType], id)
}

// SetAttributes replaces the dynamic attribute values of a record.
func (s *SourceReader) SetAttributes(entityType, id string, values ...domain.AttributeValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.attributes[entityType]
	if !ok {
		byID = make(map[string][]domain.AttributeValue)
		s.attributes[entityType] = byID
	}
	byID[id] = append([]domain.AttributeValue(nil), values...)
}

// DefineEntityType registers a runtime entity type.
func (s *SourceReader) DefineEntityType(id, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dynamic[id] = domain.DynamicDescriptor(id, label)
}

// ListDynamicEntityTypes returns the runtime types, sorted by id.
func (s *SourceReader) ListDynamicEntityTypes(_ context.Context) ([]domain.EntityTypeDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EntityTypeDescriptor, 0, len(s.dynamic))
	for _, d := range s.dynamic {
		out = append(out, d)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// visibleScope returns the scope columns the descriptor actually has.
func visibleScope(desc *domain.EntityTypeDescriptor, sc domain.Scope) domain.Scope {
	var out domain.Scope
	if desc.HasTenantColumn {
		out.TenantID = sc.TenantID
	}
	if desc.HasOrgColumn {
		out.OrganizationID = sc.OrganizationID
	}
	return out
}

// visible applies the soft-delete and scope rules of desc to rec.
func visible(desc *domain.EntityTypeDescriptor, rec *sourceRecord, scope domain.Scope, withDeleted bool) bool {
	if desc.HasSoftDeleteColumn && !withDeleted && rec.deletedAt != nil {
		return false
	}
	own := visibleScope(desc, rec.scope)
	return scope.Matches(own.TenantID, own.OrganizationID)
}

// FetchRecord returns the fields of a live in-scope record.
func (s *SourceReader) FetchRecord(_ context.Context, desc *domain.EntityTypeDescriptor, recordID string, scope domain.Scope) (map[string]any, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[desc.ID][recordID]
	if !ok || !visible(desc, rec, scope, false) {
		return nil, nil
	}
	out := cloneDoc(rec.fields)
	if out == nil {
		out = make(map[string]any)
	}
	out[desc.PrimaryKey()] = recordID
	own := visibleScope(desc, rec.scope)
	if desc.HasOrgColumn {
		out[domain.DefaultOrgColumn] = nullable(own.OrganizationID)
	}
	if desc.HasTenantColumn {
		out[domain.DefaultTenantColumn] = nullable(own.TenantID)
	}
	return out, nil
}

// ListAttributeValues returns the attribute values of a record, ordered by key.
func (s *SourceReader) ListAttributeValues(_ context.Context, entityType, recordID string, scope domain.Scope) ([]domain.AttributeValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[entityType][recordID]; ok {
		if !scope.Matches(rec.scope.TenantID, rec.scope.OrganizationID) {
			return nil, nil
		}
	}
	values := append([]domain.AttributeValue(nil), s.attributes[entityType][recordID]...)
	sort.SliceStable(values, func(a, b int) bool { return values[a].Key < values[b].Key })
	return values, nil
}

// ListCandidates returns one keyset page of live in-scope records ordered by id.
func (s *SourceReader) ListCandidates(_ context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, opts domain.ListOptions) ([]domain.Candidate, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Candidate
	for id, rec := range s.records[desc.ID] {
		if opts.AfterID != "" && id <= opts.AfterID {
			continue
		}
		if !visible(desc, rec, scope, false) {
			continue
		}
		own := visibleScope(desc, rec.scope)
		if opts.OnlyUnindexed && s.index != nil {
			key := domain.IndexKey{EntityType: desc.ID, EntityID: id, OrganizationID: own.OrganizationID}
			if s.index.IsLive(key) {
				continue
			}
		}
		out = append(out, domain.Candidate{ID: id, Scope: own})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CountRecords counts in-scope records.
func (s *SourceReader) CountRecords(_ context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, withDeleted bool) (int, error) {
	if err := desc.Validate(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records[desc.ID] {
		if visible(desc, rec, scope, withDeleted) {
			n++
		}
	}
	return n, nil
}

// ListScopes returns the distinct (tenant, organisation) pairs, sorted.
func (s *SourceReader) ListScopes(_ context.Context, desc *domain.EntityTypeDescriptor) ([]domain.Scope, error) {
	if !desc.HasOrgColumn && !desc.HasTenantColumn {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.Scope]bool)
	var out []domain.Scope
	for _, rec := range s.records[desc.ID] {
		sc := visibleScope(desc, rec.scope)
		if !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].TenantID != out[b].TenantID {
			return out[a].TenantID < out[b].TenantID
		}
		return out[a].OrganizationID < out[b].OrganizationID
	})
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

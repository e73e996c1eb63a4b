// Package registry resolves entity type ids to descriptors. Module types
// come from Register calls and from a YAML manifest; runtime types come from
// a dynamic source and are cached for a short time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
)

// Ensure Registry implements the interface.
var _ driven.EntityRegistry = (*Registry)(nil)

// Default cache settings for runtime descriptors.
const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 30 * time.Second
)

// Manifest is the YAML document listing module entity types.
type Manifest struct {
	EntityTypes []domain.EntityTypeDescriptor `yaml:"entity_types"`
}

// Registry merges module descriptors with runtime-defined ones.
type Registry struct {
	mu         sync.RWMutex
	registered map[string]domain.EntityTypeDescriptor
	manifest   map[string]domain.EntityTypeDescriptor

	dynamic driven.DynamicEntityTypeSource
	cache   *expirable.LRU[string, domain.EntityTypeDescriptor]
}

// New creates a registry. dynamic may be nil when runtime types are not
// used.
func New(dynamic driven.DynamicEntityTypeSource) *Registry {
	return NewWithCache(dynamic, DefaultCacheSize, DefaultCacheTTL)
}

// NewWithCache creates a registry with explicit cache bounds.
func NewWithCache(dynamic driven.DynamicEntityTypeSource, size int, ttl time.Duration) *Registry {
	return &Registry{
		registered: make(map[string]domain.EntityTypeDescriptor),
		manifest:   make(map[string]domain.EntityTypeDescriptor),
		dynamic:    dynamic,
		cache:      expirable.NewLRU[string, domain.EntityTypeDescriptor](size, nil, ttl),
	}
}

// Register adds a module descriptor. Ids must be unique.
func (r *Registry) Register(desc domain.EntityTypeDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	desc.Dynamic = false

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registered[desc.ID]; ok {
		return fmt.Errorf("%w: entity type %s registered twice", domain.ErrInvalidInput, desc.ID)
	}
	r.registered[desc.ID] = desc
	return nil
}

// LoadManifest replaces the manifest descriptors with the contents of path.
// On error the previous set stays active.
func (r *Registry) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	descs, err := ParseManifest(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	next := make(map[string]domain.EntityTypeDescriptor, len(descs))
	for _, d := range descs {
		next[d.ID] = d
	}

	r.mu.Lock()
	r.manifest = next
	r.mu.Unlock()
	logger.Info("registry: loaded %d entity types from %s", len(next), path)
	return nil
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) ([]domain.EntityTypeDescriptor, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %w", domain.ErrInvalidInput, err)
	}

	seen := make(map[string]bool, len(m.EntityTypes))
	var errs []error
	for i := range m.EntityTypes {
		d := &m.EntityTypes[i]
		d.Dynamic = false
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("%w: entity type %s listed twice", domain.ErrInvalidInput, d.ID))
		}
		seen[d.ID] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m.EntityTypes, nil
}

// Resolve returns the descriptor of entityType. Module descriptors win over
// runtime definitions with the same id.
func (r *Registry) Resolve(ctx context.Context, entityType string) (*domain.EntityTypeDescriptor, error) {
	if d, ok := r.static(entityType); ok {
		return &d, nil
	}
	if d, ok := r.cache.Get(entityType); ok {
		return &d, nil
	}
	if r.dynamic == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}

	defs, err := r.refreshDynamic(ctx)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		if defs[i].ID == entityType {
			return &defs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
}

// List returns every known entity type id, sorted.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	r.mu.RLock()
	for id := range r.registered {
		seen[id] = true
	}
	for id := range r.manifest {
		seen[id] = true
	}
	r.mu.RUnlock()

	if r.dynamic != nil {
		defs, err := r.refreshDynamic(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			seen[d.ID] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops cached runtime descriptors.
func (r *Registry) Invalidate() {
	r.cache.Purge()
}

func (r *Registry) static(entityType string) (domain.EntityTypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.registered[entityType]; ok {
		return d, true
	}
	d, ok := r.manifest[entityType]
	return d, ok
}

// refreshDynamic reloads runtime descriptors and refills the cache.
func (r *Registry) refreshDynamic(ctx context.Context) ([]domain.EntityTypeDescriptor, error) {
	defs, err := r.dynamic.ListDynamicEntityTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dynamic entity types: %w", err)
	}
	for i := range defs {
		defs[i].Dynamic = true
		r.cache.Add(defs[i].ID, defs[i])
	}
	return defs, nil
}

package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// EntityRegistry resolves entity type ids to descriptors.
// It merges module-declared types with types defined at runtime.
type EntityRegistry interface {
	// Resolve returns the descriptor of an entity type.
	// Returns domain.ErrUnknownEntityType if no module or definition provides it.
	Resolve(ctx context.Context, entityType string) (*domain.EntityTypeDescriptor, error)

	// List returns every known entity type id, sorted.
	List(ctx context.Context) ([]string, error)
}

// DynamicEntityTypeSource lists entity types defined at runtime.
type DynamicEntityTypeSource interface {
	// ListDynamicEntityTypes returns descriptors of the active runtime types.
	ListDynamicEntityTypes(ctx context.Context) ([]domain.EntityTypeDescriptor, error)
}

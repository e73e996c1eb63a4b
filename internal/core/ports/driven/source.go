package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// SourceReader reads the source-of-truth records owned by modules.
// All methods apply the match-or-null scope rule: a scope component that is
// set matches rows carrying the same value or no value at all, and a scope
// component that is empty does not filter.
type SourceReader interface {
	// FetchRecord returns the base row of a live record, or nil when the
	// record does not exist, is soft-deleted, or is out of scope.
	FetchRecord(ctx context.Context, desc *domain.EntityTypeDescriptor, recordID string, scope domain.Scope) (map[string]any, error)

	// ListAttributeValues returns the dynamic attribute values of a record.
	ListAttributeValues(ctx context.Context, entityType, recordID string, scope domain.Scope) ([]domain.AttributeValue, error)

	// ListCandidates returns one keyset page of live in-scope records ordered
	// by id. With OnlyUnindexed set, records that already have a live index
	// row for their own scope are left out.
	ListCandidates(ctx context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, opts domain.ListOptions) ([]domain.Candidate, error)

	// CountRecords counts in-scope records, including soft-deleted ones when
	// withDeleted is set.
	CountRecords(ctx context.Context, desc *domain.EntityTypeDescriptor, scope domain.Scope, withDeleted bool) (int, error)

	// ListScopes returns the distinct (tenant, organisation) pairs present in
	// the source table.
	ListScopes(ctx context.Context, desc *domain.EntityTypeDescriptor) ([]domain.Scope, error)
}

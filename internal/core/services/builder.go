package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// DocumentBuilder composes the index document of one source record.
// It only reads: the base row, the dynamic attribute values and, for
// encrypted tenants, the decrypted payload.
type DocumentBuilder struct {
	registry   driven.EntityRegistry
	source     driven.SourceReader
	encryption driven.TenantEncryption
}

// NewDocumentBuilder creates a document builder.
// The encryption collaborator is optional.
func NewDocumentBuilder(
	registry driven.EntityRegistry,
	source driven.SourceReader,
	encryption driven.TenantEncryption,
) *DocumentBuilder {
	return &DocumentBuilder{
		registry:   registry,
		source:     source,
		encryption: encryption,
	}
}

// Build returns the document of a record, or nil when the record does not
// exist, is soft-deleted or lies outside scope.
func (b *DocumentBuilder) Build(ctx context.Context, entityType, recordID string, scope domain.Scope) (map[string]any, error) {
	doc, _, err := b.build(ctx, entityType, recordID, scope)
	return doc, err
}

// build also reports the scope the record itself carries, which may be
// narrower than the requested one: a global record matches every scope.
// Attributes and decryption follow the record's own scope.
func (b *DocumentBuilder) build(ctx context.Context, entityType, recordID string, scope domain.Scope) (map[string]any, domain.Scope, error) {
	desc, err := b.registry.Resolve(ctx, entityType)
	if err != nil {
		return nil, domain.Scope{}, err
	}

	doc, err := b.source.FetchRecord(ctx, desc, recordID, scope)
	if err != nil {
		return nil, domain.Scope{}, fmt.Errorf("fetch %s/%s: %w", entityType, recordID, err)
	}
	if doc == nil {
		return nil, domain.Scope{}, nil
	}
	own := desc.RecordScope(doc)

	values, err := b.source.ListAttributeValues(ctx, entityType, recordID, own)
	if err != nil {
		return nil, domain.Scope{}, fmt.Errorf("list attributes of %s/%s: %w", entityType, recordID, err)
	}
	mergeAttributes(doc, values)

	if b.encryption != nil && b.encryption.IsEnabled(ctx, own) {
		decrypted, err := b.encryption.DecryptPayload(ctx, entityType, own, doc)
		if err != nil {
			if errors.Is(err, domain.ErrDecryption) {
				return nil, domain.Scope{}, err
			}
			return nil, domain.Scope{}, fmt.Errorf("%w: %w", domain.ErrDecryption, err)
		}
		doc = decrypted
	}
	return doc, own, nil
}

// mergeAttributes writes attribute values into doc under their prefixed
// key. A single value is stored as a scalar, several as an array in the
// order they were read.
func mergeAttributes(doc map[string]any, values []domain.AttributeValue) {
	grouped := make(map[string][]any)
	var order []string
	for _, v := range values {
		if _, seen := grouped[v.Key]; !seen {
			order = append(order, v.Key)
		}
		grouped[v.Key] = append(grouped[v.Key], v.Value)
	}
	for _, key := range order {
		vals := grouped[key]
		if len(vals) == 1 {
			doc[domain.CustomFieldPrefix+key] = vals[0]
		} else {
			doc[domain.CustomFieldPrefix+key] = vals
		}
	}
}

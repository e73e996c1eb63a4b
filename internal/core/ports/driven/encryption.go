package driven

import (
	"context"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// TenantEncryption is the tenant field-level encryption collaborator.
// This is an optional service - when nil, payloads are used as read.
type TenantEncryption interface {
	// IsEnabled reports whether records of the scope carry encrypted fields.
	IsEnabled(ctx context.Context, scope domain.Scope) bool

	// DecryptPayload returns a copy of doc with encrypted fields decrypted.
	// Failures wrap domain.ErrDecryption.
	DecryptPayload(ctx context.Context, entityType string, scope domain.Scope, doc map[string]any) (map[string]any, error)
}

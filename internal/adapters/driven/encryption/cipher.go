// Package encryption implements tenant field-level encryption with
// XChaCha20-Poly1305. Encrypted fields are strings of the form
// "enc:v1:<base64(nonce|ciphertext)>" whose plaintext is the JSON encoding of
// the original value, so numbers and lists survive a round trip.
package encryption

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

// Ensure TenantCipher implements the interface.
var _ driven.TenantEncryption = (*TenantCipher)(nil)

// FieldPrefix marks an encrypted field value.
const FieldPrefix = "enc:v1:"

// TenantCipher holds one AEAD per tenant.
type TenantCipher struct {
	aeads map[string]cipher.AEAD
}

// New builds a cipher from base64 encoded 32-byte keys keyed by tenant id.
func New(keys map[string]string) (*TenantCipher, error) {
	c := &TenantCipher{aeads: make(map[string]cipher.AEAD, len(keys))}
	for tenant, encoded := range keys {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: key of tenant %s: %w", domain.ErrInvalidInput, tenant, err)
		}
		aead, err := chacha20poly1305.NewX(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: key of tenant %s: %w", domain.ErrInvalidInput, tenant, err)
		}
		c.aeads[tenant] = aead
	}
	return c, nil
}

// IsEnabled reports whether the scope's tenant has a key.
func (c *TenantCipher) IsEnabled(_ context.Context, scope domain.Scope) bool {
	if c == nil || scope.TenantID == "" {
		return false
	}
	_, ok := c.aeads[scope.TenantID]
	return ok
}

// DecryptPayload returns a copy of doc with every encrypted field, top level
// or inside a list, replaced by its plaintext value.
func (c *TenantCipher) DecryptPayload(_ context.Context, entityType string, scope domain.Scope, doc map[string]any) (map[string]any, error) {
	aead, ok := c.aeads[scope.TenantID]
	if !ok {
		return nil, fmt.Errorf("%w: no key for tenant %q", domain.ErrDecryption, scope.TenantID)
	}

	out := make(map[string]any, len(doc))
	for k, v := range doc {
		plain, err := decryptValue(aead, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s field %s: %w", domain.ErrDecryption, entityType, k, err)
		}
		out[k] = plain
	}
	return out, nil
}

// Seal encrypts value for tenant. Writers use it to produce stored fields.
func (c *TenantCipher) Seal(tenant string, value any) (string, error) {
	aead, ok := c.aeads[tenant]
	if !ok {
		return "", fmt.Errorf("%w: no key for tenant %q", domain.ErrInvalidInput, tenant)
	}
	plain, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return FieldPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptValue(aead cipher.AEAD, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.HasPrefix(val, FieldPrefix) {
			return val, nil
		}
		return open(aead, strings.TrimPrefix(val, FieldPrefix))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			plain, err := decryptValue(aead, item)
			if err != nil {
				return nil, err
			}
			out[i] = plain
		}
		return out, nil
	default:
		return v, nil
	}
}

func open(aead cipher.AEAD, encoded string) (any, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(plain, &value); err != nil {
		return nil, err
	}
	return value, nil
}

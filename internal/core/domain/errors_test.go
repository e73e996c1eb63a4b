package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allErrors = []error{
	ErrNotFound,
	ErrInvalidInput,
	ErrUnknownEntityType,
	ErrDecryption,
	ErrLockHeld,
	ErrEmbeddingUnavailable,
	ErrBusClosed,
}

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	for _, err := range allErrors {
		assert.NotNil(t, err)
		assert.NotEmpty(t, err.Error())
	}
}

func TestErrors_Uniqueness(t *testing.T) {
	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j {
				assert.False(t, errors.Is(err1, err2),
					"Error %v should not match error %v", err1, err2)
			}
		}
	}
}

// TestErrors_WithWrapping tests error wrapping behaviour
func TestErrors_WithWrapping(t *testing.T) {
	wrapped := fmt.Errorf("decrypting catalog:product: %w", ErrDecryption)
	assert.True(t, errors.Is(wrapped, ErrDecryption))
	assert.Contains(t, wrapped.Error(), "payload decryption failed")

	joined := errors.Join(errors.New("context"), ErrUnknownEntityType)
	assert.True(t, errors.Is(joined, ErrUnknownEntityType))
	assert.False(t, errors.Is(joined, ErrNotFound))
}

func TestErrors_InSwitchStatement(t *testing.T) {
	testErr := fmt.Errorf("claim: %w", ErrLockHeld)

	var result string
	switch {
	case errors.Is(testErr, ErrNotFound):
		result = "not found"
	case errors.Is(testErr, ErrLockHeld):
		result = "in progress"
	default:
		result = "unknown"
	}

	assert.Equal(t, "in progress", result)
}

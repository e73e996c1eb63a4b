package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownEntityType indicates no module or dynamic definition provides
	// the entity type. Requests for it are no-ops.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrDecryption indicates a tenant payload could not be decrypted.
	// The record is not indexed so ciphertext never reaches the index.
	ErrDecryption = errors.New("payload decryption failed")

	// ErrLockHeld indicates another run holds the scope.
	// Callers treat it as "already in progress", not as a failure.
	ErrLockHeld = errors.New("scope already locked")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// Vectorisation is disabled without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrBusClosed indicates an event was emitted after the bus shut down.
	ErrBusClosed = errors.New("event bus closed")
)

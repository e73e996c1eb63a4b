package driven

import "context"

// EmbeddingService generates vector embeddings from text.
// This is an optional service - when nil, the vectorisation stage is disabled.
//
// Calls are slow, rate-limited and externally billed, so the engine only
// reaches this port from the vectorize_one handler, never from the primary
// synchronisation path.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 768, 1536).
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

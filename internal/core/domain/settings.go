package domain

import "time"

// BusTransport selects the event bus implementation.
type BusTransport string

// Available transports.
const (
	// BusMemory dispatches events inside the process.
	BusMemory BusTransport = "memory"

	// BusRedis uses Redis Streams consumer groups.
	BusRedis BusTransport = "redis"
)

// IsValid returns true if the transport is recognised.
func (t BusTransport) IsValid() bool {
	return t == BusMemory || t == BusRedis
}

// String returns the string representation.
func (t BusTransport) String() string {
	return string(t)
}

// EmbeddingProvider selects the embedding service.
type EmbeddingProvider string

// Available embedding providers.
const (
	// EmbeddingOllama calls a local Ollama server.
	EmbeddingOllama EmbeddingProvider = "ollama"

	// EmbeddingOpenAI calls the OpenAI API or a compatible endpoint.
	EmbeddingOpenAI EmbeddingProvider = "openai"
)

// IsValid returns true if the provider is recognised.
func (p EmbeddingProvider) IsValid() bool {
	return p == EmbeddingOllama || p == EmbeddingOpenAI
}

// RequiresAPIKey reports whether the provider authenticates with a key.
func (p EmbeddingProvider) RequiresAPIKey() bool {
	return p == EmbeddingOpenAI
}

// BusSettings configures event delivery.
type BusSettings struct {
	Transport BusTransport

	// Workers is the number of concurrent handlers per process.
	Workers int

	// MaxDeliveries caps redelivery of a failing event.
	MaxDeliveries int

	RedisAddr   string
	RedisPrefix string
	RedisGroup  string
}

// ReindexSettings configures the planner.
type ReindexSettings struct {
	// BatchSize is the page size used when none is requested.
	BatchSize int
}

// JobSettings configures the scope lock reaper.
type JobSettings struct {
	// StaleAfter is how long a job may go without a heartbeat before the
	// reaper removes it. Zero disables the reaper: there is no safe default.
	StaleAfter time.Duration
}

// CoverageSettings configures the coverage accountant.
type CoverageSettings struct {
	Interval    time.Duration
	Concurrency int
}

// VectorizeSettings configures the embedding stage.
type VectorizeSettings struct {
	Enabled bool

	// Rate is the sustained embedding requests per second.
	Rate float64

	// Burst is the token bucket size.
	Burst int

	Provider EmbeddingProvider
	BaseURL  string
	Model    string
	APIKey   string
}

// RegistrySettings locates module entity manifests.
type RegistrySettings struct {
	Manifest string
	Watch    bool
}

// Settings holds the full engine configuration.
type Settings struct {
	DatabaseDir string
	Bus         BusSettings
	Reindex     ReindexSettings
	Jobs        JobSettings
	Coverage    CoverageSettings
	Vectorize   VectorizeSettings
	Registry    RegistrySettings

	// EncryptionKeys maps tenant ids to base64 encoded 32-byte keys.
	EncryptionKeys map[string]string
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Bus: BusSettings{
			Transport:     BusMemory,
			Workers:       4,
			MaxDeliveries: 5,
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "queryindex:",
			RedisGroup:    "queryindex",
		},
		Reindex: ReindexSettings{
			BatchSize: 500,
		},
		Coverage: CoverageSettings{
			Interval:    15 * time.Minute,
			Concurrency: 4,
		},
		Vectorize: VectorizeSettings{
			Enabled:  false,
			Rate:     2,
			Burst:    5,
			Provider: EmbeddingOllama,
		},
	}
}

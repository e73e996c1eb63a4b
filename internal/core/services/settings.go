package services

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyDatabaseDir        = "database.dir"
	keyBusTransport       = "bus.transport"
	keyBusWorkers         = "bus.workers"
	keyBusMaxDeliveries   = "bus.max_deliveries"
	keyRedisAddr          = "bus.redis.addr"
	keyRedisPrefix        = "bus.redis.prefix"
	keyRedisGroup         = "bus.redis.group"
	keyReindexBatchSize   = "reindex.batch_size"
	keyJobsStaleAfter     = "jobs.stale_after"
	keyCoverageInterval   = "coverage.interval"
	keyCoverageConcurrent = "coverage.concurrency"
	keyVectorizeEnabled   = "vectorize.enabled"
	keyVectorizeRate      = "vectorize.rate"
	keyVectorizeBurst     = "vectorize.burst"
	keyEmbedProvider      = "embedding.provider"
	keyEmbedBaseURL       = "embedding.base_url"
	keyEmbedModel         = "embedding.model"
	keyRegistryManifest   = "registry.manifest"
	keyRegistryWatch      = "registry.watch"

	//nolint:gosec // G101: config key prefix, not a credential.
	keyEncryptionKeys = "encryption.keys"

	//nolint:gosec // G101: config key name, not a credential.
	keyEmbedAPIKey = "embedding.api_key"
)

// SettingsService reads engine settings from the config store, falling
// back to defaults for keys that are absent.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current settings merged over defaults. Values of the wrong
// type read as the default; Validate reports them.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings, _ := s.read()
	return settings, nil
}

func (s *SettingsService) read() (*domain.Settings, []string) {
	d := domain.DefaultSettings()
	r := &configReader{store: s.configStore}

	settings := &domain.Settings{
		DatabaseDir: r.str(keyDatabaseDir, d.DatabaseDir),
		Bus: domain.BusSettings{
			Transport:     domain.BusTransport(r.str(keyBusTransport, "")),
			Workers:       r.integer(keyBusWorkers, d.Bus.Workers),
			MaxDeliveries: r.integer(keyBusMaxDeliveries, d.Bus.MaxDeliveries),
			RedisAddr:     r.str(keyRedisAddr, d.Bus.RedisAddr),
			RedisPrefix:   r.str(keyRedisPrefix, d.Bus.RedisPrefix),
			RedisGroup:    r.str(keyRedisGroup, d.Bus.RedisGroup),
		},
		Reindex: domain.ReindexSettings{
			BatchSize: r.integer(keyReindexBatchSize, d.Reindex.BatchSize),
		},
		Jobs: domain.JobSettings{
			StaleAfter: r.duration(keyJobsStaleAfter, 0),
		},
		Coverage: domain.CoverageSettings{
			Interval:    r.duration(keyCoverageInterval, d.Coverage.Interval),
			Concurrency: r.integer(keyCoverageConcurrent, d.Coverage.Concurrency),
		},
		Vectorize: domain.VectorizeSettings{
			Enabled:  r.boolean(keyVectorizeEnabled, d.Vectorize.Enabled),
			Rate:     r.float(keyVectorizeRate, d.Vectorize.Rate),
			Burst:    r.integer(keyVectorizeBurst, d.Vectorize.Burst),
			Provider: domain.EmbeddingProvider(r.str(keyEmbedProvider, "")),
			BaseURL:  r.str(keyEmbedBaseURL, ""),
			Model:    r.str(keyEmbedModel, ""),
			APIKey:   r.str(keyEmbedAPIKey, ""),
		},
		Registry: domain.RegistrySettings{
			Manifest: r.str(keyRegistryManifest, ""),
			Watch:    r.boolean(keyRegistryWatch, false),
		},
		EncryptionKeys: r.table(keyEncryptionKeys),
	}
	if !settings.Bus.Transport.IsValid() {
		settings.Bus.Transport = d.Bus.Transport
	}
	if !settings.Vectorize.Provider.IsValid() {
		settings.Vectorize.Provider = d.Vectorize.Provider
	}
	return settings, r.malformed
}

// Set stores one setting by its dotted key and persists the config file.
func (s *SettingsService) Set(key string, value any) error {
	if key == "" {
		return domain.ErrInvalidInput
	}
	str, _ := value.(string)
	switch key {
	case keyBusTransport:
		if !domain.BusTransport(str).IsValid() {
			return fmt.Errorf("%w: bus transport %q", domain.ErrInvalidInput, str)
		}
	case keyEmbedProvider:
		if !domain.EmbeddingProvider(str).IsValid() {
			return fmt.Errorf("%w: embedding provider %q", domain.ErrInvalidInput, str)
		}
	}
	if err := s.configStore.Set(key, value); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Source returns the config store's file path.
func (s *SettingsService) Source() string {
	return s.configStore.Path()
}

// Validate checks that the current settings can start the engine.
func (s *SettingsService) Validate() error {
	settings, malformed := s.read()

	errs := make([]error, 0, len(malformed))
	for _, key := range malformed {
		v, _ := s.configStore.Get(key)
		errs = append(errs, fmt.Errorf("%s: unexpected value %v (%T)", key, v, v))
	}
	if raw, ok := s.configStore.Get(keyBusTransport); ok && raw != "" && !domain.BusTransport(fmt.Sprint(raw)).IsValid() {
		errs = append(errs, fmt.Errorf("bus.transport: unknown transport %q", raw))
	}
	if settings.Bus.Workers <= 0 {
		errs = append(errs, errors.New("bus.workers must be positive"))
	}
	if settings.Bus.Transport == domain.BusRedis && settings.Bus.RedisAddr == "" {
		errs = append(errs, errors.New("bus.redis.addr is required for the redis transport"))
	}
	if settings.Reindex.BatchSize <= 0 {
		errs = append(errs, errors.New("reindex.batch_size must be positive"))
	}
	if raw, ok := s.configStore.Get(keyEmbedProvider); ok && raw != "" && !domain.EmbeddingProvider(fmt.Sprint(raw)).IsValid() {
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", raw))
	}
	if v := settings.Vectorize; v.Enabled {
		switch {
		case v.Provider.RequiresAPIKey() && v.APIKey == "":
			errs = append(errs, fmt.Errorf("vectorize.enabled with provider %s requires embedding.api_key", v.Provider))
		case !v.Provider.RequiresAPIKey() && (v.BaseURL == "" || v.Model == ""):
			errs = append(errs, errors.New("vectorize.enabled requires embedding.base_url and embedding.model"))
		}
	}
	for tenant, key := range settings.EncryptionKeys {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(raw) != 32 {
			errs = append(errs, fmt.Errorf("encryption.keys.%s must be 32 base64 encoded bytes", tenant))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// configReader converts raw config values, remembering keys whose value has
// the wrong type. Those keys read as their default.
type configReader struct {
	store     driven.ConfigStore
	malformed []string
}

func (r *configReader) lookup(key string) (any, bool) {
	return r.store.Get(key)
}

func (r *configReader) bad(key string) {
	r.malformed = append(r.malformed, key)
}

// str treats an empty string as unset.
func (r *configReader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.bad(key)
		return def
	}
	if s == "" {
		return def
	}
	return s
}

// integer accepts whole floats, which is how JSON-ish tools write numbers.
func (r *configReader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	}
	r.bad(key)
	return def
}

func (r *configReader) float(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	r.bad(key)
	return def
}

func (r *configReader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		r.bad(key)
		return def
	}
	return b
}

// duration reads Go duration strings ("15m", "2h30m").
func (r *configReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	}
	r.bad(key)
	return def
}

// table collects the string values directly or indirectly under prefix,
// keyed by the rest of their key.
func (r *configReader) table(prefix string) map[string]string {
	out := make(map[string]string)
	for _, key := range r.store.Keys(prefix) {
		v, _ := r.lookup(key)
		s, ok := v.(string)
		if !ok {
			r.bad(key)
			continue
		}
		out[strings.TrimPrefix(key, prefix+".")] = s
	}
	return out
}

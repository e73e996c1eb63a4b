package driven

// ConfigStore holds settings as dotted keys ("bus.redis.addr") mapped to
// scalar values. Type conversion and defaults belong to the settings service.
type ConfigStore interface {
	// Get returns the raw value and whether the key is set.
	Get(key string) (any, bool)

	// Set stores a value and persists it before returning.
	Set(key string, value any) error

	// Keys lists the set keys that start with prefix + ".", sorted.
	// An empty prefix lists every key.
	Keys(prefix string) []string

	// Path names the backing file.
	Path() string
}

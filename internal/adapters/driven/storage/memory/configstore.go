package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore keeps settings in a map. Tests and one-shot commands that must
// not touch ~/.queryindex use it.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[string]any)}
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *ConfigStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keysUnder(s.values, prefix)
}

// Path returns ":memory:", the sqlite spelling for a store with no file.
func (s *ConfigStore) Path() string {
	return ":memory:"
}

func keysUnder(values map[string]any, prefix string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if prefix == "" || strings.HasPrefix(k, prefix+".") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

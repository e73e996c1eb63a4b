package driving

import "github.com/custodia-labs/queryindex/internal/core/domain"

// SettingsService reads and updates engine settings.
type SettingsService interface {
	// Get retrieves current settings merged over defaults.
	Get() (*domain.Settings, error)

	// Set stores one setting by its dotted key.
	Set(key string, value any) error

	// Validate checks that the current settings can start the engine.
	Validate() error

	// Source names where settings are stored.
	Source() string
}

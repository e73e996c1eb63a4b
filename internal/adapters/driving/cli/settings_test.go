package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/queryindex/internal/core/services"
)

func setupSettingsTest(t *testing.T) *memory.ConfigStore {
	t.Helper()
	store := memory.NewConfigStore()
	old := settingsService
	settingsService = services.NewSettingsService(store)
	t.Cleanup(func() { settingsService = old })
	return store
}

func TestParseSettingValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{name: "Integer", input: "500", expected: int64(500)},
		{name: "Negative integer", input: "-1", expected: int64(-1)},
		{name: "Decimal", input: "2.5", expected: 2.5},
		{name: "True", input: "true", expected: true},
		{name: "False", input: "false", expected: false},
		{name: "Duration", input: "15m", expected: "15m"},
		{name: "Address", input: "localhost:6379", expected: "localhost:6379"},
		{name: "Exponent stays a string", input: "1e3", expected: "1e3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseSettingValue(tt.input))
		})
	}
}

func TestSettingsShow_Defaults(t *testing.T) {
	setupSettingsTest(t)

	out, err := execute(t, "settings")

	require.NoError(t, err)
	assert.Contains(t, out, "Source: :memory:")
	assert.Contains(t, out, "Transport: memory")
	assert.Contains(t, out, "Batch size: 500")
	assert.Contains(t, out, "Stale jobs reaped after: never")
	assert.Contains(t, out, "Refresh interval: 15m0s")
	assert.Contains(t, out, "Enabled: no")
	assert.Contains(t, out, "Tenants: (none)")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestSettingsShow_WarnsWhenInvalid(t *testing.T) {
	store := setupSettingsTest(t)
	require.NoError(t, store.Set("vectorize.enabled", true))

	out, err := execute(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning:")
	assert.Contains(t, out, "embedding.base_url")
}

func TestSettingsSet_StoresTypedValues(t *testing.T) {
	store := setupSettingsTest(t)

	out, err := execute(t, "settings", "set", "reindex.batch_size", "250")
	require.NoError(t, err)
	assert.Contains(t, out, "reindex.batch_size = 250")

	_, err = execute(t, "settings", "set", "jobs.stale_after", "30m")
	require.NoError(t, err)

	_, err = execute(t, "settings", "set", "registry.watch", "true")
	require.NoError(t, err)

	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, 250, settings.Reindex.BatchSize)
	assert.Equal(t, "30m0s", settings.Jobs.StaleAfter.String())
	assert.True(t, settings.Registry.Watch)
	assert.Equal(t, int64(250), mustGet(t, store, "reindex.batch_size"))
}

func TestSettingsSet_RejectsUnknownTransport(t *testing.T) {
	setupSettingsTest(t)

	_, err := execute(t, "settings", "set", "bus.transport", "kafka")
	assert.ErrorContains(t, err, "kafka")
}

func TestSettingsValidate(t *testing.T) {
	store := setupSettingsTest(t)

	out, err := execute(t, "settings", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid.")

	require.NoError(t, store.Set("encryption.keys.t1", "short"))
	_, err = execute(t, "settings", "validate")
	assert.ErrorContains(t, err, "encryption.keys.t1")
}

func TestSettingsCmd_NotConfigured(t *testing.T) {
	old := settingsService
	settingsService = nil
	defer func() { settingsService = old }()

	_, err := execute(t, "settings", "show")
	assert.ErrorIs(t, err, errSettingsNotConfigured)
}

func mustGet(t *testing.T, store *memory.ConfigStore, key string) any {
	t.Helper()
	v, ok := store.Get(key)
	require.True(t, ok)
	return v
}

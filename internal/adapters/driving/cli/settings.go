package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

var errSettingsNotConfigured = errors.New("settings service not configured")

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage engine settings",
	Long: `View and change the settings stored in the config file.

Keys are dotted paths such as bus.transport or reindex.batch_size.
Per tenant encryption keys live under encryption.keys.<tenant>.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store one setting",
	Long: `Store one setting in the config file.

Integers, decimals and true/false are stored typed; everything else,
durations such as 15m included, is stored as a string.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the settings can start the engine",
	RunE:  runSettingsValidate,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Printf("Source: %s\n", settingsService.Source())
	cmd.Println()

	cmd.Println("[Database]")
	cmd.Printf("  Directory: %s\n", settings.DatabaseDir)
	cmd.Println()

	cmd.Println("[Event Bus]")
	cmd.Printf("  Transport: %s\n", settings.Bus.Transport)
	cmd.Printf("  Workers: %d\n", settings.Bus.Workers)
	cmd.Printf("  Max deliveries: %d\n", settings.Bus.MaxDeliveries)
	if settings.Bus.Transport == domain.BusRedis {
		cmd.Printf("  Redis: %s (prefix %q, group %q)\n",
			settings.Bus.RedisAddr, settings.Bus.RedisPrefix, settings.Bus.RedisGroup)
	}
	cmd.Println()

	cmd.Println("[Reindex]")
	cmd.Printf("  Batch size: %d\n", settings.Reindex.BatchSize)
	if settings.Jobs.StaleAfter > 0 {
		cmd.Printf("  Stale jobs reaped after: %s\n", settings.Jobs.StaleAfter)
	} else {
		cmd.Println("  Stale jobs reaped after: never")
	}
	cmd.Println()

	cmd.Println("[Coverage]")
	if settings.Coverage.Interval > 0 {
		cmd.Printf("  Refresh interval: %s\n", settings.Coverage.Interval)
	} else {
		cmd.Println("  Refresh interval: disabled")
	}
	cmd.Printf("  Concurrency: %d\n", settings.Coverage.Concurrency)
	cmd.Println()

	cmd.Println("[Vectorize]")
	if settings.Vectorize.Enabled {
		cmd.Println("  Enabled: yes")
		cmd.Printf("  Provider: %s\n", settings.Vectorize.Provider)
		cmd.Printf("  Model: %s\n", orDefault(settings.Vectorize.Model))
		cmd.Printf("  Base URL: %s\n", orDefault(settings.Vectorize.BaseURL))
		if settings.Vectorize.Provider.RequiresAPIKey() {
			if settings.Vectorize.APIKey != "" {
				cmd.Printf("  API Key: %s\n", maskAPIKey(settings.Vectorize.APIKey))
			} else {
				cmd.Println("  API Key: (not set)")
			}
		}
		cmd.Printf("  Rate: %g/s (burst %d)\n", settings.Vectorize.Rate, settings.Vectorize.Burst)
	} else {
		cmd.Println("  Enabled: no")
	}
	cmd.Println()

	cmd.Println("[Registry]")
	if settings.Registry.Manifest != "" {
		cmd.Printf("  Manifest: %s (watch: %t)\n", settings.Registry.Manifest, settings.Registry.Watch)
	} else {
		cmd.Println("  Manifest: (none)")
	}
	cmd.Println()

	cmd.Println("[Encryption]")
	if len(settings.EncryptionKeys) == 0 {
		cmd.Println("  Tenants: (none)")
	} else {
		tenants := make([]string, 0, len(settings.EncryptionKeys))
		for tenant := range settings.EncryptionKeys {
			tenants = append(tenants, tenant)
		}
		sort.Strings(tenants)
		cmd.Printf("  Tenants: %s\n", strings.Join(tenants, ", "))
	}
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'queryindex settings set <key> <value>' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}

	key, value := args[0], parseSettingValue(args[1])
	if err := settingsService.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	cmd.Printf("%s = %v\n", key, value)
	return nil
}

func runSettingsValidate(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}

	if err := settingsService.Validate(); err != nil {
		return err
	}
	cmd.Println("Configuration is valid.")
	return nil
}

func orDefault(s string) string {
	if s == "" {
		return "(provider default)"
	}
	return s
}

// maskAPIKey masks an API key for display.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// parseSettingValue types a command line value the way TOML would.
func parseSettingValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && strings.Contains(raw, ".") {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

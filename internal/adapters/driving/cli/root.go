// Package cli provides the command line surface of the query index engine.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
	"github.com/custodia-labs/queryindex/internal/logger"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var verbose bool

// Services wired by main before Execute runs.
var (
	queryIndex      driving.QueryIndexService
	settingsService driving.SettingsService
)

var rootCmd = &cobra.Command{
	Use:   "queryindex",
	Short: "Keep a derived query index in step with its source tables",
	Long: `queryindex maintains a denormalised document index over arbitrary
entity types. Records are reconciled one at a time from sync events, whole
scopes are rebuilt by reindex runs and removed by purges, and coverage
snapshots report how far the index has drifted from its source.

Run 'queryindex worker' to consume events; the other commands schedule work
or inspect the index.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug and info logs to stderr")
}

// SetVersion sets the version string printed by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// SetQueryIndexService sets the engine facade used by the index commands.
func SetQueryIndexService(svc driving.QueryIndexService) {
	queryIndex = svc
}

// SetSettingsService sets the service used by the settings commands.
func SetSettingsService(svc driving.SettingsService) {
	settingsService = svc
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// scopeFlags adds --tenant and --org to cmd and returns a reader for them.
func scopeFlags(cmd *cobra.Command) func() domain.Scope {
	var tenant, org string
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict to one tenant")
	cmd.Flags().StringVar(&org, "org", "", "restrict to one organisation")
	return func() domain.Scope {
		return domain.Scope{TenantID: tenant, OrganizationID: org}
	}
}

func scopeLabel(sc domain.Scope) string {
	tenant, org := sc.TenantID, sc.OrganizationID
	if tenant == "" {
		tenant = "*"
	}
	if org == "" {
		org = "*"
	}
	return "tenant=" + tenant + " org=" + org
}

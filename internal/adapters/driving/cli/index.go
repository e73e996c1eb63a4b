package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
)

var errQueryIndexNotConfigured = errors.New("query index service not configured")

var reindexOpts driving.ReindexOptions

var reindexCmd = &cobra.Command{
	Use:   "reindex <entity-type>",
	Short: "Schedule a reindex of an entity type",
	Long: `Schedule a reindex of an entity type.

Without --force only records missing from the index are emitted, so an
interrupted run resumes where it stopped. --force re-emits every record in
scope and takes over a scope held by another run.

Large types can be split with --partitions N and one --partition I per
worker; shards of the same run hold the scope together.`,
	Args: cobra.ExactArgs(1),
	RunE: runReindex,
}

var purgeScope func() domain.Scope

var purgeCmd = &cobra.Command{
	Use:   "purge <entity-type>",
	Short: "Schedule a purge of an entity type's index rows",
	Long: `Schedule a soft delete of every index row of an entity type.

--tenant and --org narrow the sweep; rows without an organisation are
removed together with any organisation's rows.`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

var syncOneScope func() domain.Scope

var syncOneCmd = &cobra.Command{
	Use:   "sync-one <entity-type> <record-id>",
	Short: "Reconcile one record now",
	Long: `Rebuild the document of one record and write it to the index.

The record is upserted when it exists and changed, left alone when its
document is unchanged, and soft deleted from the index when the source
record is gone or deleted.`,
	Args: cobra.ExactArgs(2),
	RunE: runSyncOne,
}

func init() {
	f := reindexCmd.Flags()
	f.StringVar(&reindexOpts.TenantID, "tenant", "", "restrict to one tenant")
	f.StringVar(&reindexOpts.OrganizationID, "org", "", "restrict to one organisation")
	f.BoolVar(&reindexOpts.Force, "force", false, "re-emit every record and reclaim a held scope")
	f.IntVar(&reindexOpts.BatchSize, "batch-size", 0, "records per planner batch (0 uses the configured size)")
	f.IntVar(&reindexOpts.PartitionCount, "partitions", 0, "total number of shards")
	f.IntVar(&reindexOpts.PartitionIndex, "partition", 0, "shard handled by this request")

	purgeScope = scopeFlags(purgeCmd)
	syncOneScope = scopeFlags(syncOneCmd)

	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(syncOneCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	entityType := args[0]
	if err := queryIndex.TriggerReindex(cmd.Context(), entityType, reindexOpts); err != nil {
		return fmt.Errorf("reindex %s: %w", entityType, err)
	}

	sc := domain.Scope{TenantID: reindexOpts.TenantID, OrganizationID: reindexOpts.OrganizationID}
	cmd.Printf("Reindex of %s scheduled (%s", entityType, scopeLabel(sc))
	if reindexOpts.PartitionCount > 1 {
		cmd.Printf(" partition=%d/%d", reindexOpts.PartitionIndex, reindexOpts.PartitionCount)
	}
	if reindexOpts.Force {
		cmd.Print(" force")
	}
	cmd.Println(")")
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	entityType := args[0]
	sc := purgeScope()
	if err := queryIndex.TriggerPurge(cmd.Context(), entityType, sc); err != nil {
		return fmt.Errorf("purge %s: %w", entityType, err)
	}

	cmd.Printf("Purge of %s scheduled (%s)\n", entityType, scopeLabel(sc))
	return nil
}

func runSyncOne(cmd *cobra.Command, args []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	ev := domain.SyncEvent{EntityType: args[0], RecordID: args[1], Scope: syncOneScope()}
	outcome, err := queryIndex.SyncRecord(cmd.Context(), ev)
	if err != nil {
		return fmt.Errorf("sync %s/%s: %w", ev.EntityType, ev.RecordID, err)
	}

	cmd.Printf("%s/%s: %s\n", ev.EntityType, ev.RecordID, outcome)
	return nil
}

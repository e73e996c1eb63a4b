package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

var coverageScope func() domain.Scope

var coverageCmd = &cobra.Command{
	Use:   "coverage <entity-type>",
	Short: "Compare source and index row counts",
	Long: `Recount an entity type's source records and live index rows for one
scope, store the snapshot and print it.`,
	Args: cobra.ExactArgs(1),
	RunE: runCoverage,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index health per entity type",
	RunE:  runStatus,
}

var (
	logsFilter domain.LogFilter
	logsLevel  string
	logsLimit  int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent indexer log entries",
	RunE:  runLogs,
}

func init() {
	coverageScope = scopeFlags(coverageCmd)

	logsCmd.Flags().StringVar(&logsFilter.EntityType, "type", "", "only entries of this entity type")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only entries of this level (info, warn, error)")
	logsCmd.Flags().StringVar(&logsFilter.Handler, "handler", "", "only entries written by this handler")
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "maximum number of entries")

	rootCmd.AddCommand(coverageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runCoverage(cmd *cobra.Command, args []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	sc := coverageScope()
	cov, err := queryIndex.GetCoverage(cmd.Context(), args[0], sc)
	if err != nil {
		return fmt.Errorf("coverage %s: %w", args[0], err)
	}

	cmd.Printf("%s (%s)\n", cov.EntityType, scopeLabel(sc))
	cmd.Printf("  Source records: %d\n", cov.BaseCount)
	cmd.Printf("  Indexed:        %d\n", cov.IndexedCount)
	cmd.Printf("  With vectors:   %d\n", cov.VectorIndexedCount)
	if cov.OK() {
		cmd.Println("  Status: in sync")
	} else {
		cmd.Printf("  Status: drift of %d\n", cov.BaseCount-cov.IndexedCount)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	statuses, err := queryIndex.ListIndexStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list index status: %w", err)
	}
	if len(statuses) == 0 {
		cmd.Println("No entity types registered.")
		return nil
	}

	cmd.Printf("%-32s %10s %10s  %-4s %s\n", "ENTITY TYPE", "SOURCE", "INDEXED", "OK", "JOB")
	for i := range statuses {
		st := &statuses[i]
		ok := "no"
		if st.OK {
			ok = "yes"
		}
		cmd.Printf("%-32s %10d %10d  %-4s %s\n", st.EntityType, st.BaseCount, st.IndexCount, ok, jobSummary(st.Job))
	}
	return nil
}

func jobSummary(job *domain.ReindexJob) string {
	if job == nil {
		return "-"
	}
	s := fmt.Sprintf("%s %d/%d", job.Status, job.ProcessedCount, job.TotalCount)
	if job.Partitioned() {
		s += fmt.Sprintf(" [partition %d/%d]", job.PartitionIndex, job.PartitionCount)
	}
	if !job.HeartbeatAt.IsZero() {
		s += " heartbeat " + job.HeartbeatAt.UTC().Format(time.RFC3339)
	}
	return s
}

func runLogs(cmd *cobra.Command, _ []string) error {
	if queryIndex == nil {
		return errQueryIndexNotConfigured
	}

	filter := logsFilter
	if logsLevel != "" {
		filter.Level = domain.LogLevel(logsLevel)
		switch filter.Level {
		case domain.LogInfo, domain.LogWarn, domain.LogError:
		default:
			return fmt.Errorf("unknown level %q", logsLevel)
		}
	}

	entries, err := queryIndex.RecentLogs(cmd.Context(), filter, logsLimit)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	if len(entries) == 0 {
		cmd.Println("No log entries.")
		return nil
	}

	for i := range entries {
		e := &entries[i]
		cmd.Printf("%s %-5s %-24s %s", e.OccurredAt.UTC().Format(time.RFC3339), e.Level, e.Handler, e.Message)
		if e.EntityType != "" {
			cmd.Printf(" [%s", e.EntityType)
			if e.RecordID != "" {
				cmd.Printf("/%s", e.RecordID)
			}
			cmd.Print("]")
		}
		cmd.Println()
	}
	return nil
}

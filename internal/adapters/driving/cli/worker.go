package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
	"github.com/custodia-labs/queryindex/internal/logger"
)

// WorkerConfig holds the long running parts driven by the worker command.
type WorkerConfig struct {
	// Consume runs the event bus until the context ends. Handlers must
	// already be subscribed.
	Consume func(ctx context.Context) error

	Scheduler       driving.Scheduler
	SchedulerConfig domain.SchedulerConfig

	// Watch reloads the entity type manifest on change. Optional.
	Watch func(ctx context.Context) error

	// Gatherer backs the /metrics endpoint. Defaults to the default registry.
	Gatherer prometheus.Gatherer
}

var workerConfig *WorkerConfig

var metricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume index events and run background tasks",
	Long: `Run the event consumers that upsert, vectorise, reindex and purge, plus
the scheduled coverage refresh, stale job reaper and log pruning.

The worker stops on SIGINT or SIGTERM. --metrics-addr exposes Prometheus
metrics on /metrics.`,
	RunE: runWorker,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show scheduled maintenance tasks and their recent runs",
	RunE:  runTasks,
}

// SetWorkerConfig sets the configuration for the worker command.
func SetWorkerConfig(config *WorkerConfig) {
	workerConfig = config
}

func init() {
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if workerConfig == nil || workerConfig.Consume == nil {
		return errors.New("worker not configured")
	}

	logger.SetTimestamps(true)
	logger.Section("Worker")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Println("Worker started. Press Ctrl+C to stop.")
	if err := runWorkerLoop(ctx, workerConfig, metricsAddr); err != nil {
		return err
	}
	cmd.Println("Worker stopped.")
	return nil
}

// runWorkerLoop runs every configured part until ctx ends or one fails.
func runWorkerLoop(ctx context.Context, cfg *WorkerConfig, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(cfg.Consume(ctx))
	})

	if cfg.Scheduler != nil && cfg.SchedulerConfig.Enabled {
		g.Go(func() error {
			return ignoreCanceled(cfg.Scheduler.Start(ctx))
		})
		g.Go(func() error {
			<-ctx.Done()
			return cfg.Scheduler.Stop()
		})
	}

	if cfg.Watch != nil {
		g.Go(func() error {
			if err := cfg.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// A broken watch only stops reloads, not consumption.
				logger.Warn("registry watch stopped: %v", err)
			}
			return nil
		})
	}

	if addr != "" {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func runTasks(cmd *cobra.Command, _ []string) error {
	if workerConfig == nil || workerConfig.Scheduler == nil {
		return errors.New("scheduler not configured")
	}

	statuses, err := workerConfig.Scheduler.Tasks(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(statuses) == 0 {
		cmd.Println("No tasks have been scheduled yet. Start a worker to create them.")
		return nil
	}

	cmd.Printf("%-18s %-9s %-8s %-20s %s\n", "TASK", "INTERVAL", "ENABLED", "NEXT RUN", "LAST ERROR")
	for i := range statuses {
		task := &statuses[i].Task
		enabled := "no"
		if task.Enabled {
			enabled = "yes"
		}
		lastErr := task.LastError
		if lastErr == "" {
			lastErr = "-"
		}
		cmd.Printf("%-18s %-9s %-8s %-20s %s\n", task.ID, task.Interval, enabled, formatWhen(task.NextRun), lastErr)

		for _, r := range statuses[i].Recent {
			outcome := "ok"
			if !r.Success {
				outcome = "failed: " + r.Error
			}
			cmd.Printf("    %s  %6s  %5d items  %s\n",
				formatWhen(r.StartedAt), r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond), r.ItemsProcessed, outcome)
		}
	}
	return nil
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

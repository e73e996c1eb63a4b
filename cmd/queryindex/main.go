// Command queryindex runs the query index engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/config/file"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/encryption"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/eventbus/memory"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/eventbus/redis"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/registry"
	"github.com/custodia-labs/queryindex/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/queryindex/internal/adapters/driving/cli"
	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/core/services"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

var version = "dev"

// drainTimeout bounds how long a one-shot command waits for the in-process
// bus to work off what it emitted.
const drainTimeout = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	configStore, err := file.NewConfigStore(os.Getenv("QUERYINDEX_CONFIG_DIR"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		return err
	}
	settingsService := services.NewSettingsService(configStore)
	cli.SetVersion(version)
	cli.SetSettingsService(settingsService)

	settings, err := settingsService.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading settings: %v\n", err)
		return err
	}

	store, err := sqlite.NewStore(settings.DatabaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening database: %v\n", err)
		return err
	}
	defer store.Close()

	metrics.Register(prometheus.DefaultRegisterer)

	reg := registry.New(store.CustomEntities())
	if settings.Registry.Manifest != "" {
		if err := reg.LoadManifest(settings.Registry.Manifest); err != nil {
			logger.Error("registry: %v", err)
		}
	}

	cipher, err := encryption.New(settings.EncryptionKeys)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	ctx := context.Background()
	bus, memBus, err := openBus(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	defer bus.Close()

	embedder, err := openEmbedder(settings.Vectorize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	index := store.IndexStore()
	source := store.SourceReader()
	jobs := store.JobStore()

	sink := services.NewLogSink(store.LogStore())
	lock := services.NewScopeLock(jobs)
	builder := services.NewDocumentBuilder(reg, source, cipher)
	synchronizer := services.NewSynchronizer(builder, index)
	planner := services.NewReindexPlanner(reg, source, lock, bus, sink, settings.Reindex.BatchSize)
	purge := services.NewPurgeWorkflow(index, lock)
	vectorizer := services.NewVectorizer(index, embedder, settings.Vectorize)
	accountant := services.NewCoverageAccountant(reg, source, index, store.CoverageStore(), settings.Coverage.Concurrency)
	backfill := services.NewEmbeddingBackfill(reg, index, bus, vectorizer, settings.Reindex.BatchSize)

	handlers := services.NewHandlers(synchronizer, planner, purge, vectorizer, index, bus, sink)
	handlers.Register()

	cli.SetQueryIndexService(services.NewQueryIndex(reg, source, index, jobs, bus, synchronizer, accountant, sink))

	schedulerConfig := domain.SchedulerConfigFor(*settings)
	workerConfig := &cli.WorkerConfig{
		Consume:         bus.Run,
		Scheduler:       services.NewScheduler(schedulerConfig, store.SchedulerStore(), accountant, backfill, lock, sink, settings.Jobs.StaleAfter),
		SchedulerConfig: schedulerConfig,
	}
	if settings.Registry.Manifest != "" && settings.Registry.Watch {
		workerConfig.Watch = func(ctx context.Context) error {
			return reg.Watch(ctx, settings.Registry.Manifest)
		}
	}
	cli.SetWorkerConfig(workerConfig)

	execErr := cli.Execute()

	// One-shot commands on the in-process bus emit events nobody consumes
	// yet; work them off before exiting.
	if memBus != nil && memBus.Pending() > 0 {
		drain(ctx, memBus)
	}

	return execErr
}

// openBus selects the transport named by the settings.
func openBus(settings *domain.Settings) (driven.EventBus, *memory.Bus, error) {
	switch settings.Bus.Transport {
	case domain.BusRedis:
		bus := redis.Open(settings.Bus.RedisAddr, redis.Options{
			Prefix:        settings.Bus.RedisPrefix,
			Group:         settings.Bus.RedisGroup,
			Workers:       settings.Bus.Workers,
			MaxDeliveries: settings.Bus.MaxDeliveries,
		})
		return bus, nil, nil
	case domain.BusMemory, "":
		bus := memory.New(memory.Options{
			Workers:       settings.Bus.Workers,
			MaxDeliveries: settings.Bus.MaxDeliveries,
		})
		return bus, bus, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus transport %q", settings.Bus.Transport)
	}
}

// openEmbedder returns nil when vectorisation is disabled.
func openEmbedder(cfg domain.VectorizeSettings) (driven.EmbeddingService, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Provider {
	case domain.EmbeddingOpenAI:
		svc, err := openai.NewEmbeddingService(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding service: %w", err)
		}
		return svc, nil
	default:
		return ollama.NewEmbeddingService(ollama.Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	}
}

func drain(ctx context.Context, bus *memory.Bus) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()

	if err := bus.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("event bus: %d events left unprocessed: %v", bus.Pending(), err)
	}
	cancel()
	<-done
}

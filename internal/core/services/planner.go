package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// DefaultBatchSize is the candidate page size when none is configured.
const DefaultBatchSize = 500

// ReindexPlanner enumerates the records of a scope and emits one upsert
// event per record. Without force only records lacking a live index row are
// emitted, which makes an interrupted run resumable: the next run picks up
// exactly what is still missing.
type ReindexPlanner struct {
	registry  driven.EntityRegistry
	source    driven.SourceReader
	lock      *ScopeLock
	bus       driven.EventBus
	sink      *LogSink
	batchSize int
}

// NewReindexPlanner creates a planner. batchSize <= 0 uses DefaultBatchSize.
func NewReindexPlanner(
	registry driven.EntityRegistry,
	source driven.SourceReader,
	lock *ScopeLock,
	bus driven.EventBus,
	sink *LogSink,
	batchSize int,
) *ReindexPlanner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ReindexPlanner{
		registry:  registry,
		source:    source,
		lock:      lock,
		bus:       bus,
		sink:      sink,
		batchSize: batchSize,
	}
}

// Plan runs one reindex request. Unknown entity types and held scopes are
// not errors: the result reports Claimed=false.
func (p *ReindexPlanner) Plan(ctx context.Context, req domain.ReindexRequest) (domain.PlanResult, error) {
	var result domain.PlanResult
	if err := req.Validate(); err != nil {
		return result, err
	}

	desc, err := p.registry.Resolve(ctx, req.EntityType)
	if errors.Is(err, domain.ErrUnknownEntityType) {
		p.sink.Warn(ctx, domain.IndexerLogEntry{
			Source:     "planner",
			Handler:    domain.EventReindex,
			EntityType: req.EntityType,
			Scope:      req.Scope,
			Message:    "unknown entity type, reindex skipped",
		})
		return result, nil
	}
	if err != nil {
		return result, err
	}

	job := &domain.ReindexJob{
		EntityType:     req.EntityType,
		Scope:          req.Scope,
		PartitionIndex: req.PartitionIndex,
		PartitionCount: req.PartitionCount,
		Status:         domain.JobReindexing,
	}

	start := time.Now()
	err = p.lock.WithClaim(ctx, job, req.Force, func(ctx context.Context) error {
		result.Claimed = true
		return p.emit(ctx, desc, req, job, &result)
	})
	if errors.Is(err, domain.ErrLockHeld) {
		p.sink.Info(ctx, domain.IndexerLogEntry{
			Source:     "planner",
			Handler:    domain.EventReindex,
			EntityType: req.EntityType,
			Scope:      req.Scope,
			Message:    "reindex already in progress",
		})
		return result, nil
	}
	if err != nil {
		return result, err
	}

	metrics.PlanDuration.WithLabelValues(req.EntityType).Observe(time.Since(start).Seconds())
	logger.Info("reindex %s %s: %d candidates, %d emitted", req.EntityType, req.Scope.Key(), result.Candidates, result.Emitted)
	return result, nil
}

// emit pages through candidates and publishes upsert events, heartbeating
// the job row after every page.
func (p *ReindexPlanner) emit(ctx context.Context, desc *domain.EntityTypeDescriptor, req domain.ReindexRequest, job *domain.ReindexJob, result *domain.PlanResult) error {
	batch := req.BatchSize
	if batch <= 0 {
		batch = p.batchSize
	}
	mode := "resume"
	if req.Force {
		mode = "force"
	}

	opts := domain.ListOptions{OnlyUnindexed: !req.Force, Limit: batch}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := p.source.ListCandidates(ctx, desc, req.Scope, opts)
		if err != nil {
			return fmt.Errorf("list %s candidates: %w", req.EntityType, err)
		}
		if len(page) == 0 {
			return nil
		}

		emitted := 0
		for _, c := range page {
			result.Candidates++
			if !inPartition(c.ID, req.PartitionIndex, req.PartitionCount) {
				continue
			}
			ev := domain.SyncEvent{EntityType: req.EntityType, RecordID: c.ID, Scope: c.Scope}
			if err := p.bus.Emit(ctx, domain.EventUpsertOne, ev); err != nil {
				return fmt.Errorf("emit %s/%s: %w", req.EntityType, c.ID, err)
			}
			emitted++
		}
		result.Emitted += emitted
		metrics.PlannedEvents.WithLabelValues(req.EntityType, mode).Add(float64(emitted))

		job.ProcessedCount = result.Emitted
		job.TotalCount = result.Candidates
		if err := p.lock.Heartbeat(ctx, job); err != nil {
			return err
		}

		if len(page) < batch {
			return nil
		}
		opts.AfterID = page[len(page)-1].ID
	}
}

// inPartition reports whether a record belongs to the shard.
func inPartition(recordID string, index, count int) bool {
	if count <= 1 {
		return true
	}
	return xxhash.Sum64String(recordID)%uint64(count) == uint64(index)
}

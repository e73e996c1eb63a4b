package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/core/ports/driving"
)

// Ensure QueryIndex implements the interface.
var _ driving.QueryIndexService = (*QueryIndex)(nil)

// QueryIndex is the facade used by the CLI and other callers.
type QueryIndex struct {
	registry driven.EntityRegistry
	source   driven.SourceReader
	index    driven.IndexStore
	jobs     driven.JobStore
	bus      driven.EventBus
	sync     *Synchronizer
	coverage *CoverageAccountant
	sink     *LogSink
}

// NewQueryIndex creates the facade.
func NewQueryIndex(
	registry driven.EntityRegistry,
	source driven.SourceReader,
	index driven.IndexStore,
	jobs driven.JobStore,
	bus driven.EventBus,
	sync *Synchronizer,
	coverage *CoverageAccountant,
	sink *LogSink,
) *QueryIndex {
	return &QueryIndex{
		registry: registry,
		source:   source,
		index:    index,
		jobs:     jobs,
		bus:      bus,
		sync:     sync,
		coverage: coverage,
		sink:     sink,
	}
}

// TriggerReindex emits a reindex request.
func (q *QueryIndex) TriggerReindex(ctx context.Context, entityType string, opts driving.ReindexOptions) error {
	req := domain.ReindexRequest{
		EntityType:     entityType,
		Scope:          domain.Scope{TenantID: opts.TenantID, OrganizationID: opts.OrganizationID},
		Force:          opts.Force,
		BatchSize:      opts.BatchSize,
		PartitionCount: opts.PartitionCount,
		PartitionIndex: opts.PartitionIndex,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := q.bus.Emit(ctx, domain.EventReindex, req); err != nil {
		return fmt.Errorf("emit reindex: %w", err)
	}
	return nil
}

// TriggerPurge emits a purge request.
func (q *QueryIndex) TriggerPurge(ctx context.Context, entityType string, scope domain.Scope) error {
	if entityType == "" {
		return domain.ErrInvalidInput
	}
	if err := q.bus.Emit(ctx, domain.EventPurge, domain.PurgeRequest{EntityType: entityType, Scope: scope}); err != nil {
		return fmt.Errorf("emit purge: %w", err)
	}
	return nil
}

// SyncRecord reconciles one record in the calling goroutine.
func (q *QueryIndex) SyncRecord(ctx context.Context, ev domain.SyncEvent) (domain.SyncOutcome, error) {
	return q.sync.SyncOne(ctx, ev)
}

// GetCoverage recomputes the coverage of a scope, excluding soft-deleted
// source records.
func (q *QueryIndex) GetCoverage(ctx context.Context, entityType string, scope domain.Scope) (*domain.IndexCoverage, error) {
	return q.coverage.Compute(ctx, entityType, scope, false)
}

// ListIndexStatus returns live counts for every known entity type.
func (q *QueryIndex) ListIndexStatus(ctx context.Context) ([]domain.IndexStatus, error) {
	types, err := q.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entity types: %w", err)
	}

	out := make([]domain.IndexStatus, 0, len(types))
	for _, entityType := range types {
		desc, err := q.registry.Resolve(ctx, entityType)
		if err != nil {
			return nil, err
		}
		base, err := q.source.CountRecords(ctx, desc, domain.Scope{}, false)
		if err != nil {
			return nil, err
		}
		indexed, _, err := q.index.Count(ctx, entityType, domain.Scope{})
		if err != nil {
			return nil, err
		}
		status := domain.IndexStatus{
			EntityType: entityType,
			BaseCount:  base,
			IndexCount: indexed,
			OK:         base == indexed,
		}

		jobs, err := q.jobs.List(ctx, entityType)
		if err != nil {
			return nil, err
		}
		for i := range jobs {
			if jobs[i].Scope.IsGlobal() {
				status.Job = &jobs[i]
				break
			}
		}
		out = append(out, status)
	}
	return out, nil
}

// RecentLogs returns the newest indexer log entries.
func (q *QueryIndex) RecentLogs(ctx context.Context, filter domain.LogFilter, limit int) ([]domain.IndexerLogEntry, error) {
	return q.sink.Recent(ctx, filter, limit)
}

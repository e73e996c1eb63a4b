package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// Synchronizer reconciles one index row with its source record.
// It always rebuilds from the current source state, so redelivered and
// reordered events for the same key converge.
type Synchronizer struct {
	builder *DocumentBuilder
	index   driven.IndexStore
	now     func() time.Time
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(builder *DocumentBuilder, index driven.IndexStore) *Synchronizer {
	return &Synchronizer{builder: builder, index: index, now: time.Now}
}

// SyncOne upserts the row of a live record or soft-deletes the row of a
// missing one.
func (s *Synchronizer) SyncOne(ctx context.Context, ev domain.SyncEvent) (domain.SyncOutcome, error) {
	_, outcome, err := s.Sync(ctx, ev)
	return outcome, err
}

// Sync is SyncOne that also returns the event rekeyed to the scope the
// record carries. A live record is always indexed under its own scope, so a
// global record synced from an organisation context keeps its global row.
// A missing record leaves the event as given.
func (s *Synchronizer) Sync(ctx context.Context, ev domain.SyncEvent) (domain.SyncEvent, domain.SyncOutcome, error) {
	doc, own, err := s.builder.build(ctx, ev.EntityType, ev.RecordID, ev.Scope)
	if err != nil {
		return ev, "", err
	}

	var outcome domain.SyncOutcome
	if doc == nil {
		deleted, err := s.deleteRows(ctx, ev)
		if err != nil {
			return ev, "", fmt.Errorf("soft delete %s/%s: %w", ev.EntityType, ev.RecordID, err)
		}
		outcome = domain.SyncMissing
		if deleted {
			outcome = domain.SyncDeleted
		}
	} else {
		ev.Scope = own
		res, err := s.index.Upsert(ctx, &domain.IndexedDocument{
			EntityType:     ev.EntityType,
			EntityID:       ev.RecordID,
			OrganizationID: own.OrganizationID,
			TenantID:       own.TenantID,
			Doc:            doc,
			IndexVersion:   domain.CurrentIndexVersion,
		})
		if err != nil {
			return ev, "", fmt.Errorf("upsert %s/%s: %w", ev.EntityType, ev.RecordID, err)
		}
		outcome = domain.SyncUnchanged
		if res.Changed {
			outcome = domain.SyncUpserted
		}
	}

	metrics.SyncResults.WithLabelValues(ev.EntityType, string(outcome)).Inc()
	return ev, outcome, nil
}

// deleteRows soft-deletes the row under the event's key. An event raised in
// an organisation context may concern a global record, whose row sits under
// the global key; that row goes too when it is visible to the event's scope,
// since a live global record would have been found.
func (s *Synchronizer) deleteRows(ctx context.Context, ev domain.SyncEvent) (bool, error) {
	now := s.now()
	deleted, err := s.index.SoftDelete(ctx, ev.Key(), now)
	if err != nil || ev.OrganizationID == "" {
		return deleted, err
	}

	global := ev.Key()
	global.OrganizationID = ""
	row, err := s.index.Get(ctx, global)
	if errors.Is(err, domain.ErrNotFound) {
		return deleted, nil
	}
	if err != nil {
		return deleted, err
	}
	if row.IsDeleted() || !ev.Matches(row.TenantID, "") {
		return deleted, nil
	}
	globalDeleted, err := s.index.SoftDelete(ctx, global, now)
	return deleted || globalDeleted, err
}

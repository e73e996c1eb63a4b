package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// Handlers adapts the engine services to bus events.
//
// Returning an error makes the bus redeliver the event. Only failures that
// a later attempt can fix are returned (store and transport errors). Bad
// payloads, unknown entity types, decryption failures and held scopes are
// recorded in the indexer log and acknowledged.
type Handlers struct {
	sync       *Synchronizer
	planner    *ReindexPlanner
	purge      *PurgeWorkflow
	vectorizer *Vectorizer
	index      driven.IndexStore
	bus        driven.EventBus
	sink       *LogSink
}

// NewHandlers creates the event handlers. The vectorizer is optional.
func NewHandlers(
	sync *Synchronizer,
	planner *ReindexPlanner,
	purge *PurgeWorkflow,
	vectorizer *Vectorizer,
	index driven.IndexStore,
	bus driven.EventBus,
	sink *LogSink,
) *Handlers {
	return &Handlers{
		sync:       sync,
		planner:    planner,
		purge:      purge,
		vectorizer: vectorizer,
		index:      index,
		bus:        bus,
		sink:       sink,
	}
}

// Register subscribes every handler on the bus.
func (h *Handlers) Register() {
	h.bus.Subscribe(domain.EventUpsertOne, h.HandleUpsertOne)
	h.bus.Subscribe(domain.EventVectorizeOne, h.HandleVectorizeOne)
	h.bus.Subscribe(domain.EventReindex, h.HandleReindex)
	h.bus.Subscribe(domain.EventPurge, h.HandlePurge)
}

// HandleUpsertOne synchronises one record and, when vectorisation is on,
// hands rows without a current embedding to the vectorize stage.
func (h *Handlers) HandleUpsertOne(ctx context.Context, payload json.RawMessage) error {
	var ev domain.SyncEvent
	if err := h.decode(ctx, domain.EventUpsertOne, payload, &ev); err != nil {
		return nil
	}

	synced, outcome, err := h.sync.Sync(ctx, ev)
	if err != nil {
		return h.fail(ctx, domain.EventUpsertOne, ev, err)
	}

	if !h.vectorizer.Enabled() {
		return nil
	}
	switch outcome {
	case domain.SyncUpserted:
	case domain.SyncUnchanged:
		// A redelivery after a failed emit lands here; only rows still
		// lacking a vector need another pass.
		row, err := h.index.Get(ctx, synced.Key())
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return h.fail(ctx, domain.EventUpsertOne, synced, fmt.Errorf("read row: %w", err))
		}
		if len(row.Embedding) > 0 {
			return nil
		}
	default:
		return nil
	}
	if err := h.bus.Emit(ctx, domain.EventVectorizeOne, synced); err != nil {
		return h.fail(ctx, domain.EventUpsertOne, synced, fmt.Errorf("emit vectorize: %w", err))
	}
	return nil
}

// HandleVectorizeOne embeds one index row.
func (h *Handlers) HandleVectorizeOne(ctx context.Context, payload json.RawMessage) error {
	var ev domain.SyncEvent
	if err := h.decode(ctx, domain.EventVectorizeOne, payload, &ev); err != nil {
		return nil
	}
	if err := h.vectorizer.VectorizeOne(ctx, ev); err != nil {
		return h.fail(ctx, domain.EventVectorizeOne, ev, err)
	}
	return nil
}

// HandleReindex runs the planner for one request.
func (h *Handlers) HandleReindex(ctx context.Context, payload json.RawMessage) error {
	var req domain.ReindexRequest
	if err := h.decode(ctx, domain.EventReindex, payload, &req); err != nil {
		return nil
	}
	if _, err := h.planner.Plan(ctx, req); err != nil {
		return h.fail(ctx, domain.EventReindex, domain.SyncEvent{EntityType: req.EntityType, Scope: req.Scope}, err)
	}
	return nil
}

// HandlePurge runs the purge workflow for one request.
func (h *Handlers) HandlePurge(ctx context.Context, payload json.RawMessage) error {
	var req domain.PurgeRequest
	if err := h.decode(ctx, domain.EventPurge, payload, &req); err != nil {
		return nil
	}
	if _, err := h.purge.Purge(ctx, req); err != nil {
		return h.fail(ctx, domain.EventPurge, domain.SyncEvent{EntityType: req.EntityType, Scope: req.Scope}, err)
	}
	return nil
}

func (h *Handlers) decode(ctx context.Context, handler string, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		metrics.SyncFailures.WithLabelValues("", "payload").Inc()
		h.sink.Error(ctx, domain.IndexerLogEntry{
			Source:  "handler",
			Handler: handler,
			Message: "malformed payload",
			Details: map[string]any{"error": err.Error(), "payload": string(payload)},
		})
		return err
	}
	return nil
}

// fail logs err and decides whether the event is redelivered.
func (h *Handlers) fail(ctx context.Context, handler string, ev domain.SyncEvent, err error) error {
	entry := domain.IndexerLogEntry{
		Source:     "handler",
		Handler:    handler,
		EntityType: ev.EntityType,
		RecordID:   ev.RecordID,
		Scope:      ev.Scope,
		Message:    err.Error(),
	}

	switch {
	case errors.Is(err, domain.ErrLockHeld):
		h.sink.Info(ctx, entry)
		return nil
	case errors.Is(err, domain.ErrUnknownEntityType), errors.Is(err, domain.ErrEmbeddingUnavailable):
		metrics.SyncFailures.WithLabelValues(ev.EntityType, "skipped").Inc()
		h.sink.Warn(ctx, entry)
		return nil
	case errors.Is(err, domain.ErrDecryption):
		metrics.SyncFailures.WithLabelValues(ev.EntityType, "decryption").Inc()
		h.sink.Error(ctx, entry)
		return nil
	case errors.Is(err, domain.ErrInvalidInput):
		metrics.SyncFailures.WithLabelValues(ev.EntityType, "invalid").Inc()
		h.sink.Error(ctx, entry)
		return nil
	default:
		metrics.SyncFailures.WithLabelValues(ev.EntityType, "transient").Inc()
		h.sink.Error(ctx, entry)
		return err
	}
}

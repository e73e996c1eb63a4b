package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
	"github.com/custodia-labs/queryindex/internal/logger"
	"github.com/custodia-labs/queryindex/internal/metrics"
)

// Document columns that never describe the entity.
var vectorSkipKeys = map[string]bool{
	domain.DefaultOrgColumn:        true,
	domain.DefaultTenantColumn:     true,
	domain.DefaultSoftDeleteColumn: true,
}

// Vectorizer writes embeddings of live index rows. It runs behind the
// primary stage: a slow or failing embedding service only delays vectors,
// it never blocks or rolls back document upserts.
type Vectorizer struct {
	index    driven.IndexStore
	embedder driven.EmbeddingService
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// NewVectorizer creates a vectorizer. A nil embedder disables the stage.
func NewVectorizer(index driven.IndexStore, embedder driven.EmbeddingService, cfg domain.VectorizeSettings) *Vectorizer {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Vectorizer{
		index:    index,
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embedding",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// A rejected request says nothing about the service's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrEmbeddingUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("vectorize: breaker %s %s -> %s", name, from, to)
			},
		}),
	}
}

// Enabled reports whether an embedding service is configured.
func (v *Vectorizer) Enabled() bool {
	return v != nil && v.embedder != nil
}

// VectorizeOne embeds the live row of ev. Missing or deleted rows are
// skipped; only the embedding column is written.
func (v *Vectorizer) VectorizeOne(ctx context.Context, ev domain.SyncEvent) error {
	if !v.Enabled() {
		return domain.ErrEmbeddingUnavailable
	}

	row, err := v.index.Get(ctx, ev.Key())
	if errors.Is(err, domain.ErrNotFound) {
		metrics.VectorizeResults.WithLabelValues(ev.EntityType, "skipped").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s/%s: %w", ev.EntityType, ev.RecordID, err)
	}
	text := documentText(row.Doc)
	if row.IsDeleted() || text == "" {
		metrics.VectorizeResults.WithLabelValues(ev.EntityType, "skipped").Inc()
		return nil
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}
	out, err := v.breaker.Execute(func() (interface{}, error) {
		return v.embedder.Embed(ctx, text)
	})
	if err != nil {
		metrics.VectorizeResults.WithLabelValues(ev.EntityType, "failed").Inc()
		return fmt.Errorf("embed %s/%s: %w", ev.EntityType, ev.RecordID, err)
	}

	if err := v.index.SetEmbedding(ctx, ev.Key(), out.([]float32)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted while embedding.
			metrics.VectorizeResults.WithLabelValues(ev.EntityType, "skipped").Inc()
			return nil
		}
		return fmt.Errorf("store embedding %s/%s: %w", ev.EntityType, ev.RecordID, err)
	}
	metrics.VectorizeResults.WithLabelValues(ev.EntityType, "ok").Inc()
	return nil
}

// documentText flattens a document into "key: value" lines in key order.
func documentText(doc map[string]any) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if !vectorSkipKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		val := doc[k]
		if val == nil {
			continue
		}
		if list, ok := val.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			val = strings.Join(parts, ", ")
		}
		fmt.Fprintf(&b, "%s: %v\n", strings.TrimPrefix(k, domain.CustomFieldPrefix), val)
	}
	return strings.TrimSpace(b.String())
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/queryindex/internal/core/domain"
	"github.com/custodia-labs/queryindex/internal/core/ports/driven"
)

const productType = "catalog:product"

var productDesc = domain.EntityTypeDescriptor{
	ID:                  productType,
	BaseTable:           "catalog_products",
	HasOrgColumn:        true,
	HasTenantColumn:     true,
	HasSoftDeleteColumn: true,
}

// --- staticRegistry ---

type staticRegistry struct {
	descs map[string]domain.EntityTypeDescriptor
}

func newStaticRegistry(descs ...domain.EntityTypeDescriptor) *staticRegistry {
	r := &staticRegistry{descs: make(map[string]domain.EntityTypeDescriptor)}
	for _, d := range descs {
		r.descs[d.ID] = d
	}
	return r
}

func (r *staticRegistry) Resolve(_ context.Context, entityType string) (*domain.EntityTypeDescriptor, error) {
	d, ok := r.descs[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}
	return &d, nil
}

func (r *staticRegistry) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.descs))
	for id := range r.descs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- recordingBus ---

type busEvent struct {
	name    string
	payload json.RawMessage
}

type recordingBus struct {
	mu       sync.Mutex
	events   []busEvent
	handlers map[string]driven.EventHandler
	emitErr  error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[string]driven.EventHandler)}
}

func (b *recordingBus) Emit(_ context.Context, name string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.emitErr != nil {
		return b.emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.events = append(b.events, busEvent{name: name, payload: data})
	return nil
}

func (b *recordingBus) Subscribe(name string, handler driven.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

func (b *recordingBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) named(name string) []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busEvent
	for _, e := range b.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBus) syncEvents(t *testing.T, name string) []domain.SyncEvent {
	t.Helper()
	var out []domain.SyncEvent
	for _, e := range b.named(name) {
		var ev domain.SyncEvent
		require.NoError(t, json.Unmarshal(e.payload, &ev))
		out = append(out, ev)
	}
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// --- fakeEncryption ---

// fakeEncryption "decrypts" string values carrying an "enc:" prefix for
// one tenant.
type fakeEncryption struct {
	tenant string
	err    error
}

func (f *fakeEncryption) IsEnabled(_ context.Context, scope domain.Scope) bool {
	return scope.TenantID == f.tenant
}

func (f *fakeEncryption) DecryptPayload(_ context.Context, _ string, _ domain.Scope, doc map[string]any) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if s, ok := v.(string); ok {
			v = strings.TrimPrefix(s, "enc:")
		}
		out[k] = v
	}
	return out, nil
}

// --- fakeEmbedder ---

type fakeEmbedder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e *fakeEmbedder) Dimensions() int              { return 2 }
func (e *fakeEmbedder) ModelName() string            { return "fake" }
func (e *fakeEmbedder) Ping(_ context.Context) error { return nil }
func (e *fakeEmbedder) Close() error                 { return nil }

var errStoreDown = errors.New("store unavailable")

// --- fixture ---

type fixture struct {
	registry   *staticRegistry
	index      *memory.IndexStore
	source     *memory.SourceReader
	jobs       *memory.JobStore
	coverage   *memory.CoverageStore
	logs       *memory.LogStore
	bus        *recordingBus
	sink       *LogSink
	lock       *ScopeLock
	builder    *DocumentBuilder
	sync       *Synchronizer
	planner    *ReindexPlanner
	purge      *PurgeWorkflow
	accountant *CoverageAccountant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: newStaticRegistry(productDesc),
		index:    memory.NewIndexStore(),
		jobs:     memory.NewJobStore(),
		coverage: memory.NewCoverageStore(),
		logs:     memory.NewLogStore(),
		bus:      newRecordingBus(),
	}
	f.source = memory.NewSourceReader(f.index)
	f.sink = NewLogSink(f.logs)
	f.lock = NewScopeLock(f.jobs)
	f.builder = NewDocumentBuilder(f.registry, f.source, nil)
	f.sync = NewSynchronizer(f.builder, f.index)
	f.planner = NewReindexPlanner(f.registry, f.source, f.lock, f.bus, f.sink, 10)
	f.purge = NewPurgeWorkflow(f.index, f.lock)
	f.accountant = NewCoverageAccountant(f.registry, f.source, f.index, f.coverage, 2)
	return f
}

// seed creates n products p000..p(n-1) in scope.
func (f *fixture) seed(n int, scope domain.Scope) {
	for i := 0; i < n; i++ {
		f.source.Put(productType, fmt.Sprintf("p%03d", i), scope, map[string]any{"name": fmt.Sprintf("Product %d", i)})
	}
}

// syncAll synchronises the first n seeded products.
func (f *fixture) syncAll(t *testing.T, n int, scope domain.Scope) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.sync.SyncOne(context.Background(), domain.SyncEvent{
			EntityType: productType,
			RecordID:   fmt.Sprintf("p%03d", i),
			Scope:      scope,
		})
		require.NoError(t, err)
	}
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/queryindex/internal/core/domain"
)

func newHandlersFixture(t *testing.T, emb *fakeEmbedder) (*fixture, *Handlers) {
	t.Helper()
	f := newFixture(t)
	var v *Vectorizer
	if emb != nil {
		v = NewVectorizer(f.index, emb, domain.VectorizeSettings{})
	}
	return f, NewHandlers(f.sync, f.planner, f.purge, v, f.index, f.bus, f.sink)
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandlers_Register(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	h.Register()
	for _, name := range []string{domain.EventUpsertOne, domain.EventVectorizeOne, domain.EventReindex, domain.EventPurge} {
		assert.Contains(t, f.bus.handlers, name)
	}
}

func TestHandlers_UpsertEmitsVectorize(t *testing.T) {
	emb := &fakeEmbedder{}
	f, h := newHandlersFixture(t, emb)
	ctx := context.Background()
	f.seed(1, domain.Scope{})
	ev := domain.SyncEvent{EntityType: productType, RecordID: "p000"}

	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, ev)))
	vec := f.bus.named(domain.EventVectorizeOne)
	require.Len(t, vec, 1)

	// Redelivery before the vector exists asks again.
	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, ev)))
	assert.Len(t, f.bus.named(domain.EventVectorizeOne), 2)

	require.NoError(t, h.HandleVectorizeOne(ctx, vec[0].payload))
	require.Len(t, emb.calls, 1)

	// Unchanged and embedded: nothing more to do.
	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, ev)))
	assert.Len(t, f.bus.named(domain.EventVectorizeOne), 2)
}

func TestHandlers_NoVectorizerNoEmit(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()
	f.seed(1, domain.Scope{})

	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, domain.SyncEvent{EntityType: productType, RecordID: "p000"})))
	assert.Empty(t, f.bus.named(domain.EventVectorizeOne))
	assert.Equal(t, 1, f.index.Len())

	// Vectorize events without a service are acknowledged with a warning.
	require.NoError(t, h.HandleVectorizeOne(ctx, payload(t, domain.SyncEvent{EntityType: productType, RecordID: "p000"})))
	warnings, err := f.logs.List(ctx, domain.LogFilter{Level: domain.LogWarn}, 0)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestHandlers_MalformedPayloadAcknowledged(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, h.HandleUpsertOne(ctx, json.RawMessage(`{"entityType":`)))
	require.NoError(t, h.HandleReindex(ctx, json.RawMessage(`[]`)))

	errs, err := f.logs.List(ctx, domain.LogFilter{Level: domain.LogError}, 0)
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "malformed payload", errs[0].Message)
}

func TestHandlers_UnknownEntityTypeAcknowledged(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, domain.SyncEvent{EntityType: "crm:ghost", RecordID: "x"})))
	warnings, err := f.logs.List(ctx, domain.LogFilter{EntityType: "crm:ghost"}, 0)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.LogWarn, warnings[0].Level)
}

func TestHandlers_TransientFailureRedelivered(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("timeout")}
	f, h := newHandlersFixture(t, emb)
	ctx := context.Background()
	f.seed(1, domain.Scope{})
	f.syncAll(t, 1, domain.Scope{})

	err := h.HandleVectorizeOne(ctx, payload(t, domain.SyncEvent{EntityType: productType, RecordID: "p000"}))
	assert.ErrorContains(t, err, "timeout")

	errs, lerr := f.logs.List(ctx, domain.LogFilter{Handler: domain.EventVectorizeOne}, 0)
	require.NoError(t, lerr)
	require.Len(t, errs, 1)
	assert.Equal(t, "p000", errs[0].RecordID)
}

func TestHandlers_DecryptionFailureAcknowledged(t *testing.T) {
	f, _ := newHandlersFixture(t, nil)
	ctx := context.Background()
	builder := NewDocumentBuilder(f.registry, f.source, &fakeEncryption{tenant: "t1", err: errors.New("bad key")})
	h := NewHandlers(NewSynchronizer(builder, f.index), f.planner, f.purge, nil, f.index, f.bus, f.sink)
	f.source.Put(productType, "p1", domain.Scope{TenantID: "t1"}, map[string]any{"name": "enc:x"})

	ev := domain.SyncEvent{EntityType: productType, RecordID: "p1", Scope: domain.Scope{TenantID: "t1"}}
	require.NoError(t, h.HandleUpsertOne(ctx, payload(t, ev)))
	assert.Equal(t, 0, f.index.Len())
}

func TestHandlers_ReindexAndPurge(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()
	f.seed(3, domain.Scope{})

	require.NoError(t, h.HandleReindex(ctx, payload(t, domain.ReindexRequest{EntityType: productType})))
	events := f.bus.named(domain.EventUpsertOne)
	require.Len(t, events, 3)
	for _, e := range events {
		require.NoError(t, h.HandleUpsertOne(ctx, e.payload))
	}

	require.NoError(t, h.HandlePurge(ctx, payload(t, domain.PurgeRequest{EntityType: productType})))
	n, _, err := f.index.Count(ctx, productType, domain.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandlers_HeldScopeAcknowledged(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()

	ok, err := f.lock.TryClaim(ctx, &domain.ReindexJob{EntityType: productType, Status: domain.JobReindexing}, false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.HandlePurge(ctx, payload(t, domain.PurgeRequest{EntityType: productType})))
	infos, err := f.logs.List(ctx, domain.LogFilter{Level: domain.LogInfo, Handler: domain.EventPurge}, 0)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestHandlers_InvalidReindexAcknowledged(t *testing.T) {
	f, h := newHandlersFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, h.HandleReindex(ctx, payload(t, domain.ReindexRequest{})))
	errs, err := f.logs.List(ctx, domain.LogFilter{Level: domain.LogError}, 0)
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}

// flakyReads fails every index read.
type flakyReads struct {
	*memory.IndexStore
}

func (flakyReads) Get(context.Context, domain.IndexKey) (*domain.IndexedDocument, error) {
	return nil, errStoreDown
}

func TestHandlers_UnchangedReadFailureRedelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := NewVectorizer(f.index, &fakeEmbedder{}, domain.VectorizeSettings{})
	h := NewHandlers(f.sync, f.planner, f.purge, v, flakyReads{f.index}, f.bus, f.sink)
	f.seed(1, domain.Scope{})
	f.syncAll(t, 1, domain.Scope{})

	err := h.HandleUpsertOne(ctx, payload(t, domain.SyncEvent{EntityType: productType, RecordID: "p000"}))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, f.bus.named(domain.EventVectorizeOne))

	errs, lerr := f.logs.List(ctx, domain.LogFilter{Level: domain.LogError}, 0)
	require.NoError(t, lerr)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "read row")
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

func TestNewEmbeddingBackfill_DisabledVectorizer(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, NewEmbeddingBackfill(f.registry, f.index, f.bus, nil, 0))
	assert.Nil(t, NewEmbeddingBackfill(f.registry, f.index, f.bus, NewVectorizer(f.index, nil, domain.VectorizeSettings{}), 0))

	var b *EmbeddingBackfill
	n, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmbeddingBackfill_RequeuesRowsWithoutVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(5, domain.Scope{})
	f.syncAll(t, 5, domain.Scope{})
	require.NoError(t, f.index.SetEmbedding(ctx, domain.IndexKey{EntityType: productType, EntityID: "p001"}, []float32{1}))
	f.source.SoftDelete(productType, "p004", time.Now())
	f.syncAll(t, 5, domain.Scope{})

	v := NewVectorizer(f.index, &fakeEmbedder{}, domain.VectorizeSettings{})
	b := NewEmbeddingBackfill(f.registry, f.index, f.bus, v, 2)

	n, err := b.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events := f.bus.syncEvents(t, domain.EventVectorizeOne)
	require.Len(t, events, 3)
	ids := []string{events[0].RecordID, events[1].RecordID, events[2].RecordID}
	assert.Equal(t, []string{"p000", "p002", "p003"}, ids)

	for _, ev := range events {
		require.NoError(t, v.VectorizeOne(ctx, ev))
	}
	f.bus.reset()
	n, err = b.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmbeddingBackfill_RecoversEventsDroppedWhileBreakerOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, domain.Scope{})
	f.syncAll(t, 1, domain.Scope{})
	ev := domain.SyncEvent{EntityType: productType, RecordID: "p000"}

	emb := &fakeEmbedder{err: errors.New("provider down")}
	v := NewVectorizer(f.index, emb, domain.VectorizeSettings{})
	for i := 0; i < 6; i++ {
		assert.Error(t, v.VectorizeOne(ctx, ev))
	}

	// The provider is back but the delivery is gone; the row has no vector.
	emb.err = nil
	row, err := f.index.Get(ctx, ev.Key())
	require.NoError(t, err)
	require.Empty(t, row.Embedding)

	n, err := NewEmbeddingBackfill(f.registry, f.index, f.bus, v, 0).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A later delivery, once the breaker has closed again.
	recovered := NewVectorizer(f.index, emb, domain.VectorizeSettings{})
	for _, requeued := range f.bus.syncEvents(t, domain.EventVectorizeOne) {
		require.NoError(t, recovered.VectorizeOne(ctx, requeued))
	}
	row, err = f.index.Get(ctx, ev.Key())
	require.NoError(t, err)
	assert.NotEmpty(t, row.Embedding)
}

func TestEmbeddingBackfill_EmitFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(1, domain.Scope{})
	f.syncAll(t, 1, domain.Scope{})
	f.bus.emitErr = domain.ErrBusClosed

	b := NewEmbeddingBackfill(f.registry, f.index, f.bus, NewVectorizer(f.index, &fakeEmbedder{}, domain.VectorizeSettings{}), 0)
	_, err := b.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrBusClosed)
	assert.ErrorContains(t, err, productType)
}

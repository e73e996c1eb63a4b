package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

func productDoc(id, org, tenant, name string) *domain.IndexedDocument {
	return &domain.IndexedDocument{
		EntityType:     "catalog:product",
		EntityID:       id,
		OrganizationID: org,
		TenantID:       tenant,
		Doc:            map[string]any{"id": id, "name": name},
	}
}

func TestIndexStore_UpsertCreatesRow(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	res, err := idx.Upsert(ctx, productDoc("1", "org-a", "t1", "Lamp"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Changed)

	got, err := idx.Get(ctx, domain.IndexKey{EntityType: "catalog:product", EntityID: "1", OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Doc["name"])
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, domain.CurrentIndexVersion, got.IndexVersion)
	assert.False(t, got.IsDeleted())
	assert.False(t, got.CreatedAt.IsZero())
}

func TestIndexStore_UpsertIsIdempotent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()
	key := domain.IndexKey{EntityType: "catalog:product", EntityID: "1"}

	_, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
	require.NoError(t, err)
	first, err := idx.Get(ctx, key)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	res, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Changed)

	second, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt), "updated_at must not move without a change")

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM entity_indexes").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIndexStore_UpsertChangeMovesUpdatedAt(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()
	key := domain.IndexKey{EntityType: "catalog:product", EntityID: "1", OrganizationID: "org-a"}

	_, err := idx.Upsert(ctx, productDoc("1", "org-a", "", "Lamp"))
	require.NoError(t, err)
	first, err := idx.Get(ctx, key)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	res, err := idx.Upsert(ctx, productDoc("1", "org-a", "", "Desk lamp"))
	require.NoError(t, err)
	assert.True(t, res.Changed)

	second, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Desk lamp", second.Doc["name"])
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
}

func TestIndexStore_ScopeUniqueness(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	// Same id in two organisations and globally: three distinct rows.
	for _, org := range []string{"org-a", "org-b", ""} {
		_, err := idx.Upsert(ctx, productDoc("7", org, "", "Chair"))
		require.NoError(t, err)
	}
	// Repeating any of them must not add rows.
	for _, org := range []string{"org-a", ""} {
		_, err := idx.Upsert(ctx, productDoc("7", org, "", "Chair"))
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, store.db.QueryRow(
		"SELECT COUNT(*) FROM entity_indexes WHERE entity_id = '7'").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestIndexStore_ConcurrentFirstUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM entity_indexes").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIndexStore_SoftDeleteAndRevive(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()
	key := domain.IndexKey{EntityType: "catalog:product", EntityID: "1"}

	_, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
	require.NoError(t, err)

	deleted, err := idx.SoftDelete(ctx, key, time.Now())
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = idx.SoftDelete(ctx, key, time.Now())
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds no live row")

	got, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	res, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
	require.NoError(t, err)
	assert.True(t, res.Changed, "reviving a deleted row is a change")

	got, err = idx.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())
}

func TestIndexStore_SoftDeleteScope(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	_, err := idx.Upsert(ctx, productDoc("1", "org-a", "t1", "A"))
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, productDoc("2", "org-b", "t1", "B"))
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, productDoc("3", "", "t1", "Global"))
	require.NoError(t, err)

	n, err := idx.SoftDeleteScope(ctx, "catalog:product", domain.Scope{OrganizationID: "org-a"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "org-a row and the global row")

	live, _, err := idx.Count(ctx, "catalog:product", domain.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, live)

	got, err := idx.Get(ctx, domain.IndexKey{EntityType: "catalog:product", EntityID: "2", OrganizationID: "org-b"})
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())
}

func TestIndexStore_SetEmbeddingKeepsDocument(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()
	key := domain.IndexKey{EntityType: "catalog:product", EntityID: "1"}

	_, err := idx.Upsert(ctx, productDoc("1", "", "", "Lamp"))
	require.NoError(t, err)
	before, err := idx.Get(ctx, key)
	require.NoError(t, err)

	require.NoError(t, idx.SetEmbedding(ctx, key, []float32{0.5, -1}))

	after, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, after.Embedding)
	assert.Equal(t, before.Doc, after.Doc)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	// A later content upsert keeps the embedding.
	_, err = idx.Upsert(ctx, productDoc("1", "", "", "Desk lamp"))
	require.NoError(t, err)
	after, err = idx.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1}, after.Embedding)

	_, vectors, err := idx.Count(ctx, "catalog:product", domain.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, vectors)
}

func TestIndexStore_SetEmbedding_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.IndexStore().SetEmbedding(context.Background(),
		domain.IndexKey{EntityType: "catalog:product", EntityID: "404"}, []float32{1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIndexStore_Get_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.IndexStore().Get(context.Background(),
		domain.IndexKey{EntityType: "catalog:product", EntityID: "404"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIndexStore_Upsert_InvalidInput(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.IndexStore().Upsert(context.Background(), &domain.IndexedDocument{EntityType: "catalog:product"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndexStore_CountMatchOrNull(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	_, err := idx.Upsert(ctx, productDoc("1", "org-a", "t1", "A"))
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, productDoc("2", "org-b", "t1", "B"))
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, productDoc("3", "", "", "Shared"))
	require.NoError(t, err)

	n, _, err := idx.Count(ctx, "catalog:product", domain.Scope{TenantID: "t1", OrganizationID: "org-a"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, _, err = idx.Count(ctx, "catalog:product", domain.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndexStore_ListUnembedded(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	idx := store.IndexStore()

	for _, doc := range []*domain.IndexedDocument{
		productDoc("1", "", "", "global"),
		productDoc("1", "o1", "t1", "owned"),
		productDoc("2", "", "", "second"),
		productDoc("3", "", "", "embedded"),
		productDoc("4", "", "", "deleted"),
	} {
		_, err := idx.Upsert(ctx, doc)
		require.NoError(t, err)
	}
	other := productDoc("0", "", "", "contact")
	other.EntityType = "crm:contact"
	_, err := idx.Upsert(ctx, other)
	require.NoError(t, err)
	require.NoError(t, idx.SetEmbedding(ctx, domain.IndexKey{EntityType: "catalog:product", EntityID: "3"}, []float32{1}))
	_, err = idx.SoftDelete(ctx, domain.IndexKey{EntityType: "catalog:product", EntityID: "4"}, time.Now())
	require.NoError(t, err)

	page, err := idx.ListUnembedded(ctx, "catalog:product", domain.IndexKey{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SyncEvent{
		{EntityType: "catalog:product", RecordID: "1"},
		{EntityType: "catalog:product", RecordID: "1", Scope: domain.Scope{TenantID: "t1", OrganizationID: "o1"}},
	}, page)

	page, err = idx.ListUnembedded(ctx, "catalog:product", page[1].Key(), 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SyncEvent{{EntityType: "catalog:product", RecordID: "2"}}, page)

	page, err = idx.ListUnembedded(ctx, "catalog:product", domain.IndexKey{}, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

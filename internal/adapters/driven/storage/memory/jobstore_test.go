package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

func testJob(scope domain.Scope, index, count int) *domain.ReindexJob {
	return &domain.ReindexJob{
		EntityType:     "catalog:product",
		Scope:          scope,
		PartitionIndex: index,
		PartitionCount: count,
		Status:         domain.JobReindexing,
	}
}

func TestJobStore_ClaimAndDelete(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	scope := domain.Scope{OrganizationID: "o1"}

	ok, err := store.Claim(ctx, testJob(scope, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, testJob(scope, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Claim(ctx, testJob(domain.Scope{OrganizationID: "o2"}, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, testJob(scope, 0, 0)))
	ok, err = store.Claim(ctx, testJob(scope, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJobStore_Partitions(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := store.Claim(ctx, testJob(domain.Scope{}, i, 3))
		require.NoError(t, err)
		assert.True(t, ok, "partition %d", i)
	}
	ok, err := store.Claim(ctx, testJob(domain.Scope{}, 1, 3))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Claim(ctx, testJob(domain.Scope{}, 0, 0))
	require.NoError(t, err)
	assert.False(t, ok, "unpartitioned run conflicts with shards")

	n, err := store.DeleteConflicting(ctx, testJob(domain.Scope{}, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestJobStore_ConcurrentClaimSingleWinner(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Claim(ctx, testJob(domain.Scope{TenantID: "t1"}, 0, 0)); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestJobStore_ProgressListAndStale(t *testing.T) {
	store := NewJobStore()
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	stale := testJob(domain.Scope{OrganizationID: "o1"}, 0, 0)
	stale.StartedAt = old
	fresh := testJob(domain.Scope{OrganizationID: "o2"}, 0, 0)

	for _, j := range []*domain.ReindexJob{stale, fresh} {
		ok, err := store.Claim(ctx, j)
		require.NoError(t, err)
		require.True(t, ok)
	}

	fresh.ProcessedCount = 40
	fresh.TotalCount = 100
	fresh.HeartbeatAt = time.Now()
	require.NoError(t, store.UpdateProgress(ctx, fresh))

	jobs, err := store.List(ctx, "catalog:product")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "o1", jobs[0].Scope.OrganizationID)
	assert.Equal(t, 40, jobs[1].ProcessedCount)

	reaped, err := store.DeleteStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, "o1", reaped[0].Scope.OrganizationID)

	jobs, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobStore_ClaimRejectsBadJob(t *testing.T) {
	store := NewJobStore()
	_, err := store.Claim(context.Background(), &domain.ReindexJob{EntityType: "catalog:product", Status: "paused"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

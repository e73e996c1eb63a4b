package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore_CreatesPrivateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "deep")

	store, err := NewConfigStore(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), store.Path())
	assert.Empty(t, store.Keys(""))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestNewConfigStore_Errors(t *testing.T) {
	t.Run("directory cannot be created", func(t *testing.T) {
		store, err := NewConfigStore("/dev/null/cannot/create/dirs")
		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("file is not TOML", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("bus = {{{[["), 0o600))

		store, err := NewConfigStore(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing")
		assert.Nil(t, store)
	})
}

func TestConfigStore_SetWritesNestedTables(t *testing.T) {
	dir := t.TempDir()

	first, err := NewConfigStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set("bus.transport", "redis"))
	require.NoError(t, first.Set("bus.redis.addr", "redis:6380"))
	require.NoError(t, first.Set("bus.workers", int64(4)))
	require.NoError(t, first.Set("vectorize.rate", 2.5))

	raw, err := os.ReadFile(first.Path())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[bus.redis]")

	second, err := NewConfigStore(dir)
	require.NoError(t, err)
	for key, want := range map[string]any{
		"bus.transport":  "redis",
		"bus.redis.addr": "redis:6380",
		"bus.workers":    int64(4),
		"vectorize.rate": 2.5,
	} {
		got, ok := second.Get(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}

func TestConfigStore_ReadsHandWrittenFile(t *testing.T) {
	dir := t.TempDir()
	content := `
# written by an operator
[reindex]
batch_size = 250

[jobs]
stale_after = "30m"

[encryption.keys]
tenant-a = "AAAA"
tenant-b = "BBBB"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))

	store, err := NewConfigStore(dir)
	require.NoError(t, err)

	batch, _ := store.Get("reindex.batch_size")
	assert.Equal(t, int64(250), batch)
	stale, _ := store.Get("jobs.stale_after")
	assert.Equal(t, "30m", stale)
	assert.Equal(t, []string{"encryption.keys.tenant-a", "encryption.keys.tenant-b"}, store.Keys("encryption.keys"))
}

func TestConfigStore_FileIsPrivate(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set("encryption.keys.t1", "secret"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConfigStore_FailedWriteIsNotKept(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set("bus.transport", "memory"))

	// A directory where the file should be makes every write fail.
	require.NoError(t, os.Remove(store.Path()))
	require.NoError(t, os.Mkdir(store.Path(), 0o700))

	assert.Error(t, store.Set("bus.transport", "redis"))
	assert.Error(t, store.Set("bus.workers", 8))

	transport, _ := store.Get("bus.transport")
	assert.Equal(t, "memory", transport)
	_, ok := store.Get("bus.workers")
	assert.False(t, ok)
}

func TestConfigStore_UnencodableValue(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Set("channel", make(chan int)))
	_, ok := store.Get("channel")
	assert.False(t, ok)
}

func TestConfigStore_ConcurrentSets(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "bus.key" + string(rune('0'+n))
			_ = store.Set(key, int64(n))
			_, _ = store.Get(key)
			_ = store.Keys("bus")
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.Keys("bus"), 10)
}

func TestNestAndFlatten(t *testing.T) {
	flat := map[string]any{
		"a.b.c": 1,
		"a.d":   "x",
		"e":     true,
	}
	nested := nest(flat)

	assert.Equal(t, map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 1},
			"d": "x",
		},
		"e": true,
	}, nested)

	back := make(map[string]any)
	flatten(nested, "", back)
	assert.Equal(t, flat, back)
}

func TestNest_TableBeatsScalar(t *testing.T) {
	nested := nest(map[string]any{"bus": "memory", "bus.workers": 2})
	assert.Equal(t, map[string]any{"bus": map[string]any{"workers": 2}}, nested)
}

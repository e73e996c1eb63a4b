package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "queryindex-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// createProductsTable creates a module table shaped like most scoped,
// soft-deletable module tables.
func createProductsTable(t *testing.T, store *Store) *domain.EntityTypeDescriptor {
	t.Helper()
	_, err := store.db.Exec(`
		CREATE TABLE catalog_products (
			id              INTEGER PRIMARY KEY,
			name            TEXT NOT NULL,
			price           REAL,
			organization_id TEXT,
			tenant_id       TEXT,
			deleted_at      TEXT
		)
	`)
	require.NoError(t, err)

	return &domain.EntityTypeDescriptor{
		ID:                  "catalog:product",
		BaseTable:           "catalog_products",
		HasOrgColumn:        true,
		HasTenantColumn:     true,
		HasSoftDeleteColumn: true,
	}
}

func insertProduct(t *testing.T, store *Store, id int, name, org, tenant string) {
	t.Helper()
	_, err := store.db.Exec(
		"INSERT INTO catalog_products (id, name, price, organization_id, tenant_id) VALUES (?, ?, ?, ?, ?)",
		id, name, 9.5, nullString(org), nullString(tenant))
	require.NoError(t, err)
}

// ==================== Store Creation Tests ====================

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "queryindex-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store.Close()

	dbPath := filepath.Join(tempDir, "queryindex.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "queryindex-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	nestedDir := filepath.Join(tempDir, "nested", "db")
	store, err := NewStore(nestedDir)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, nestedDir)
}

func TestNewStore_Migrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	tables := []string{
		"scheduled_tasks",
		"task_results",
		"custom_entity_types",
		"custom_entity_records",
		"custom_field_values",
		"entity_indexes",
		"entity_index_jobs",
		"entity_index_coverage",
		"indexer_logs",
	}
	for _, table := range tables {
		var name string
		err := store.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestNewStore_CoalescedIndexReplacesPartialIndexes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	rows, err := store.db.Query(
		"SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='entity_indexes' AND name LIKE '%_uq'")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"entity_indexes_scope_uq"}, names)
}

func TestStore_MigrationIdempotency(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "queryindex-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store1, err := NewStore(tempDir)
	require.NoError(t, err)

	var versions1 []int
	rows, err := store1.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions1 = append(versions1, v)
	}
	require.NoError(t, rows.Close())
	require.NoError(t, store1.Close())

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, versions1)

	store2, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store2.Close()

	var count int
	require.NoError(t, store2.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(versions1), count)
}

func TestStore_WALMode(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var journalMode string
	err := store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)
}

func TestStore_InterfaceGetters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.NotNil(t, store.IndexStore())
	assert.NotNil(t, store.JobStore())
	assert.NotNil(t, store.CoverageStore())
	assert.NotNil(t, store.LogStore())
	assert.NotNil(t, store.SourceReader())
	assert.NotNil(t, store.CustomEntities())
	assert.NotNil(t, store.SchedulerStore())
}

// ==================== Helper Function Tests ====================

func TestScopeFilter(t *testing.T) {
	tests := []struct {
		name   string
		org    string
		tenant string
		scope  domain.Scope
		want   string
		args   []any
	}{
		{
			name:   "global scope does not filter",
			org:    "organization_id",
			tenant: "tenant_id",
			want:   "",
		},
		{
			name:   "organisation only",
			org:    "organization_id",
			tenant: "tenant_id",
			scope:  domain.Scope{OrganizationID: "org-a"},
			want:   " AND (organization_id = ? OR organization_id IS NULL)",
			args:   []any{"org-a"},
		},
		{
			name:   "both components",
			org:    "o",
			tenant: "t",
			scope:  domain.Scope{TenantID: "t1", OrganizationID: "org-a"},
			want:   " AND (o = ? OR o IS NULL) AND (t = ? OR t IS NULL)",
			args:   []any{"org-a", "t1"},
		},
		{
			name:  "missing column cannot filter",
			scope: domain.Scope{TenantID: "t1", OrganizationID: "org-a"},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := scopeFilter(tt.org, tt.tenant, tt.scope)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestFloat32Roundtrip(t *testing.T) {
	original := []float32{0.1, 0.2, 0.3, -0.5, 100.5, -200.75}

	roundtrip := bytesToFloat32Slice(float32SliceToBytes(original))

	assert.Equal(t, original, roundtrip)
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.db.Exec(`
		INSERT INTO entity_indexes (entity_type, entity_id, doc, created_at, updated_at)
		VALUES ('a:b', '1', '{}', 'x', 'x'), ('a:b', '1', '{}', 'x', 'x')
	`)
	assert.True(t, isUniqueViolation(err))
	assert.False(t, isUniqueViolation(nil))
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tenth.up.sql":    {Data: []byte("SELECT 1;")},
		"002_second.up.sql":   {Data: []byte("SELECT 1;")},
		"002_second.down.sql": {Data: []byte("SELECT 1;")},
		"001_first.up.sql":    {Data: []byte("SELECT 1;")},
		"notes.up.sql":        {Data: []byte("-- no version")},
		"embed.go":            {Data: []byte("package migrations")},
	}

	all, err := pendingMigrations(fsys, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{all[0].version, all[1].version, all[2].version})
	assert.Equal(t, "010_tenth.up.sql", all[2].name)

	rest, err := pendingMigrations(fsys, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 10, rest[0].version)
}

func TestMigrate_FailedScriptIsNotRecorded(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	broken := fstest.MapFS{
		"900_broken.up.sql": {Data: []byte("CREATE TABLE half (id INTEGER); THIS IS NOT SQL;")},
	}
	err := store.migrate(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "900_broken.up.sql")

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 900").Scan(&count))
	assert.Zero(t, count)
}

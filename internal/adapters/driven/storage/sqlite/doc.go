// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements the engine's stores over a single database:
//
//   - IndexStore: entity_indexes rows, unique per (type, id, coalesced org)
//   - JobStore: entity_index_jobs rows, claimed with one conditional insert
//   - CoverageStore: entity_index_coverage snapshots
//   - LogStore: indexer_logs entries
//   - SourceReader: module tables described by entity type descriptors
//   - CustomEntityStore: runtime entity types, records and attribute values
//   - SchedulerStore: maintenance task state
//
// # Schema
//
// The schema is managed through versioned migrations stored in the
// migrations/ directory. Applied versions are recorded in schema_migrations.
//
// # Data Location
//
// By default, the database is stored at ~/.queryindex/data/queryindex.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. The pool is limited to one
// connection, so transactions are serialised by database/sql.
package sqlite

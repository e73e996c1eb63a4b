package domain

import "time"

// IndexCoverage is an accounting snapshot comparing source rows with index
// rows for one entity type and scope. Snapshots are always rewritten whole.
type IndexCoverage struct {
	EntityType         string
	Scope              Scope
	WithDeleted        bool
	BaseCount          int
	IndexedCount       int
	VectorIndexedCount int
	RefreshedAt        time.Time
}

// OK reports whether the index holds exactly as many live rows as the source.
func (c *IndexCoverage) OK() bool {
	return c.BaseCount == c.IndexedCount
}

// VectorOK reports whether every live index row carries an embedding.
func (c *IndexCoverage) VectorOK() bool {
	return c.VectorIndexedCount == c.IndexedCount
}

// IndexStatus is the per-entity-type health line returned to callers.
type IndexStatus struct {
	EntityType string
	BaseCount  int
	IndexCount int
	OK         bool

	// Job is the active job of the unscoped run, if any.
	Job *ReindexJob
}

package domain

// Event names handled by the engine.
const (
	EventReindex      = "query_index.reindex"
	EventPurge        = "query_index.purge"
	EventUpsertOne    = "query_index.upsert_one"
	EventVectorizeOne = "query_index.vectorize_one"
)

// SyncEvent asks for one record to be reconciled. It drives both the primary
// upsert stage and the vectorisation stage and may be delivered many times.
type SyncEvent struct {
	EntityType string `json:"entityType"`
	RecordID   string `json:"recordId"`
	Scope
}

// Key returns the index key the event targets.
func (e SyncEvent) Key() IndexKey {
	return IndexKey{EntityType: e.EntityType, EntityID: e.RecordID, OrganizationID: e.OrganizationID}
}

// ReindexRequest asks for a scope to be reindexed.
type ReindexRequest struct {
	EntityType string `json:"entityType"`
	Scope
	Force          bool `json:"force,omitempty"`
	BatchSize      int  `json:"batchSize,omitempty"`
	PartitionCount int  `json:"partitionCount,omitempty"`
	PartitionIndex int  `json:"partitionIndex,omitempty"`
}

// Validate checks partition bounds and the entity type.
func (r ReindexRequest) Validate() error {
	if r.EntityType == "" {
		return ErrInvalidInput
	}
	if r.BatchSize < 0 || r.PartitionCount < 0 {
		return ErrInvalidInput
	}
	if r.PartitionCount > 1 && (r.PartitionIndex < 0 || r.PartitionIndex >= r.PartitionCount) {
		return ErrInvalidInput
	}
	return nil
}

// PurgeRequest asks for every index row of a scope to be soft-deleted.
type PurgeRequest struct {
	EntityType string `json:"entityType"`
	Scope
}

// PlanResult summarises one planner invocation.
type PlanResult struct {
	// Claimed is false when another run held the scope.
	Claimed bool

	// Candidates is the number of records inspected.
	Candidates int

	// Emitted is the number of sync events emitted.
	Emitted int
}

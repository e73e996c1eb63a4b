package domain

import "time"

// JobStatus is the kind of work holding a scope lock.
type JobStatus string

// Job statuses.
const (
	JobReindexing JobStatus = "reindexing"
	JobPurging    JobStatus = "purging"
)

// IsValid returns true if the status is recognised.
func (s JobStatus) IsValid() bool {
	return s == JobReindexing || s == JobPurging
}

// ReindexJob is both the advisory lock of a scope and the progress record of
// the run holding it. The row is deleted when the run finishes.
type ReindexJob struct {
	// EntityType is the locked entity type.
	EntityType string

	// Scope is the locked tenant/organisation. Empty components mean "all".
	Scope Scope

	// PartitionIndex identifies the shard of a partitioned run.
	PartitionIndex int

	// PartitionCount is the total number of shards; <= 1 means unpartitioned.
	PartitionCount int

	// ProcessedCount is the number of records emitted so far.
	ProcessedCount int

	// TotalCount is the number of candidates seen so far.
	TotalCount int

	// HeartbeatAt is refreshed after every batch.
	HeartbeatAt time.Time

	// Status tells whether the scope is being reindexed or purged.
	Status JobStatus

	// StartedAt is when the claim was made.
	StartedAt time.Time

	// FinishedAt is set only on rows left behind by older runs.
	FinishedAt *time.Time
}

// Partitioned reports whether the job is one shard of a partitioned run.
func (j *ReindexJob) Partitioned() bool {
	return j.PartitionCount > 1
}

// ConflictsWith reports whether two active jobs may not run at the same time.
// Jobs of different scopes never conflict. Within a scope, only shards of a
// partitioned run with distinct partition indexes may coexist.
func (j *ReindexJob) ConflictsWith(other *ReindexJob) bool {
	if j.EntityType != other.EntityType ||
		CanonicalOrg(j.Scope.OrganizationID) != CanonicalOrg(other.Scope.OrganizationID) ||
		j.Scope.TenantID != other.Scope.TenantID {
		return false
	}
	if !j.Partitioned() || !other.Partitioned() {
		return true
	}
	return j.PartitionIndex == other.PartitionIndex
}

// IsStale reports whether the job's heartbeat is older than the cutoff.
func (j *ReindexJob) IsStale(cutoff time.Time) bool {
	last := j.HeartbeatAt
	if last.IsZero() {
		last = j.StartedAt
	}
	return last.Before(cutoff)
}

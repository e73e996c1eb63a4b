// Package domain defines the core entities of the entity index engine.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - IndexedDocument: A denormalised row of the entity index
//   - ReindexJob: The advisory lock and progress record of a scope
//   - IndexCoverage: Source vs index row accounting for a scope
//   - IndexerLogEntry: Append-only handler failure / lifecycle record
//   - EntityTypeDescriptor: Where the records of an entity type live
//   - Scope: The nullable (tenant, organisation) pair
//
// # Scope canonicalisation
//
// Uniqueness and scope matching treat an empty organisation id as the
// concrete key GlobalOrgKey. Every adapter coalesces with the same key.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain

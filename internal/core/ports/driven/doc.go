// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the engine to function:
//
//   - EntityRegistry: Resolves entity type ids to descriptors
//   - SourceReader: Reads source-of-truth records and dynamic attributes
//   - IndexStore: Entity index rows
//   - JobStore: Scope locks / reindex progress
//   - CoverageStore: Coverage snapshots
//   - LogStore: Append-only indexer log
//   - EventBus: Event transport (at-least-once)
//   - ConfigStore: Application configuration
//   - SchedulerStore: Maintenance task state
//
// # Optional Interfaces
//
// These can be nil - the engine degrades gracefully:
//
//   - TenantEncryption: Without it, payloads are indexed as read.
//   - EmbeddingService: Without it, the vectorisation stage is disabled.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven

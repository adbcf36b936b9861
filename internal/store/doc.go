// Package store provides SQLite-backed storage for the knowledge base
// (topics, docs, chunks, sessions, messages).
//
// Each metadata field is kept as a column pair:
//   - docs.metadata / docs.metadata_jsonb
//   - chunks.metadata / chunks.metadata_jsonb
//   - sessions.telemetry / sessions.telemetry_jsonb
//   - messages.metadata / messages.metadata_jsonb
//
// # Write Path
//
// Every write that touches a primary column runs the matching
// dualsync.Policy hook in Go and persists both columns in the same
// statement, inside one transaction. There are no sync triggers; databases
// created with trigger-based sync have those triggers dropped by the v1
// migration.
//
// # Escape Hatches
//
// PatchDerived and SetDerived mutate only the derived column. The primary
// column is never written from the derived one.
//
// # Health
//
// CountUnsynced, ScanDrift and ReconcileField are read-mostly operational
// queries. They are never called from the write path.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

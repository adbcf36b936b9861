// Package harness runs sync scenarios against an in-memory store and
// compares their traces with golden files.
//
// # Scenario Format
//
//	name: update_sync
//	description: "Changing the primary value re-derives the JSONB column"
//	codec: sqlite            # optional, sqlite (default) or canonical
//	modes:                   # optional, per-field sync mode
//	  docs.metadata: strict
//	steps:
//	  - op: insert
//	    table: docs
//	    key: a
//	    value: '{"a":1}'
//	    expect: { state: synced, encodes: 1 }
//	  - op: update
//	    key: a
//	    value: '{"a":2}'
//	    expect: { derived: '{"a":2}', encodes: 1 }
//
// # Operations
//
//   - insert: create a row in table (docs, chunks, sessions, messages)
//   - save: upsert a doc by slug (key), exercising the update-by-key path
//   - update: set the primary value of key's row
//   - patch_derived: merge-patch the derived value only
//   - set_derived: overwrite the derived value with raw bytes (null clears it)
//   - delete: delete key's row
//   - reconcile: reconcile one field (batch_size, dry_run)
//   - drift: scan one field for drift
//
// Every step appends one event to the trace. Row steps record the row's
// primary value, decoded derived value and sync state after the step; all
// steps record the number of encode calls they caused.
//
// # Deterministic Testing
//
// Steps are numbered by testutil.StepClock and the store is a fresh
// ":memory:" database per run, so the same scenario always produces the
// same trace. Traces are serialized as canonical JSON, one event per line.
package harness

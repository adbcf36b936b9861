// Package dualsync keeps a derived (binary) representation of a field in
// step with its primary (textual JSON) representation.
//
// A synced field is stored as a Pair. The primary value is authoritative
// and human-editable; the derived value is regenerated from it by a
// codec.Codec and is never written back to the primary.
//
// # Hooks
//
// A Policy is instantiated once per record type and invoked explicitly by
// the storage layer, inside the same write that changes the record:
//
//   - OnInsert: encode every non-null primary whose derived value is unset
//   - OnUpdate: re-encode only when the primary value actually changed
//   - Reconcile: repair drift by decode-and-compare, idempotently
//
// # Modes
//
// Each field has one Mode. Lenient tolerates malformed primary JSON and
// leaves the derived value null. Strict rejects the whole write with a
// *MalformedPrimaryError. Encode failures that are not caused by
// malformed input are always returned as *EncodeError.
//
// # States
//
// Per field: Unset (derived is null), Synced, Desynced. Desynced is only
// reachable by mutating the derived value directly, and only Reconcile
// leaves it. Classify reports the state; nothing in the write path polls
// for it.
package dualsync

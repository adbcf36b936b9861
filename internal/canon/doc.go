// Package canon checks and canonicalizes JSON text.
//
// Two JSON documents are treated as the same logical content when their
// canonical serializations are byte-identical. The canonical form follows
// RFC 8785 where it matters for comparison:
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - No insignificant whitespace
//   - No HTML escaping (< > & are written literally)
//   - Strings keep their code points (IsNFC reports non-NFC input)
//
// Numbers keep their literal text. SQLite's JSONB encoding preserves the
// literal text of numbers, so normalizing them here would hide real
// differences between a primary value and its decoded derived value.
//
// canon imports nothing internal.
package canon

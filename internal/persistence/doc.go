// Package persistence stores compacted document snapshots in a relational
// table, one row per (room, clock). Blob-shaped fields (the two document
// forms and the two attribution fields) pass through a chain of optional
// plugins before insertion; the first plugin that accepts a field replaces
// its inline bytes with a retrievable marker and owns the real bytes.
//
// Rows accumulate, one per compaction, and are merged lazily on read. The
// compaction worker deletes superseded rows together with their offloaded
// assets through DeleteReferences.
package persistence

// Package roomlog implements the durable per-room append-only update log.
//
// Appends assign each entry the next room clock and, when the room's log
// turns from empty to non-empty, stage exactly one compaction task for the
// room into the same committed batch. That single batch is what guarantees
// an entry is never written without its task, and vice versa.
//
// Reads are bounded catch-up scans with optional short blocking; ReadMany
// serves the subscription multiplexer with one pass over many rooms. Trim
// deletes entries that are both folded into a persisted snapshot (clock at
// or below the compaction horizon) and older than the retention window, and
// atomically acks or requeues the originating compaction task.
package roomlog

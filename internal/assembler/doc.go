// Package assembler materializes a room's current state. It merges all
// persisted snapshot rows with the room log's buffered entries, discarding
// entries already folded into a snapshot, so re-running an assembly is
// idempotent.
package assembler

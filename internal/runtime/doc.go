// Package runtime wires the yhub services for one process: the embedded
// log store, the snapshot database, the task queue, the room log, the
// persistence store, the assembler and the multiplexer. Every component
// receives its dependencies from here; nothing is process-global, and Close
// releases all underlying connections.
package runtime

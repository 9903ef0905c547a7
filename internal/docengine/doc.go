// Package docengine declares the boundary to the external CRDT engine.
//
// yhub distributes and compacts engine-produced bytes without interpreting
// them. All operations are assumed pure, commutative and idempotent: merging
// the same update twice, or in any order, yields the same document. The
// engine owns conflict resolution; yhub owns ordering, durability and
// delivery.
//
// Union is a deterministic reference engine over opaque token sets. It keeps
// the same algebraic properties as a real CRDT engine and backs the test
// suites and the built-in CLI wiring.
package docengine

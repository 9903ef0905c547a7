// Package worker runs the compaction loop. Workers claim room tasks from
// the shared queue, assemble the room's materialized state, persist a new
// snapshot when the state advanced, delete superseded references and trim
// the room log. Many worker processes may run concurrently; the queue's
// lease debounce keeps any one task single-owner.
package worker

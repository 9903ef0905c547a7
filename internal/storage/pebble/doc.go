// Package pebblestore wraps a Pebble database with the durability policy and
// batch helpers shared by the room log and the worker task queue.
//
// Every multi-key invariant in yhub (append + conditional task enqueue, trim
// + requeue, claim exclusivity) is expressed as a single committed batch, so
// this wrapper is the only place that decides when the WAL is synced.
package pebblestore

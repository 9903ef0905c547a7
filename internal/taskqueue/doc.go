// Package taskqueue implements the shared compaction task queue.
//
// The queue holds at most one outstanding "compact" task per room. Tasks are
// enqueued pre-claimed by a synthetic "pending" owner, so a worker only picks
// one up once the claim debounce has elapsed since enqueue. A claim that is
// never acked expires after the same debounce and is reclaimed by any worker;
// that timeout is the whole retry and crash-recovery mechanism, there are no
// heartbeats and no retry counter.
//
// All state lives in the shared Pebble store under the "{prefix}:worker"
// keyspace, and every mutation is a single committed batch. The room log
// stages its conditional enqueue and its post-trim ack/requeue into its own
// batches via StageEnqueue and StageAck, which is what makes "append +
// enqueue" and "trim + requeue" atomic.
package taskqueue

package taskqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/yjs/yhub/internal/room"
	pebblestore "github.com/yjs/yhub/internal/storage/pebble"
)

// pendingOwner marks a freshly enqueued task. It behaves like a crashed
// worker: the task becomes claimable once the debounce elapses.
const pendingOwner = "pending"

// Task is one claimed compaction unit.
type Task struct {
	// ID is the queue-assigned clock id, "<ms>-<seq>".
	ID string
	// RoomKey names the room log to compact.
	RoomKey string
}

type lease struct {
	Owner     string `json:"owner"`
	ClaimedMs int64  `json:"claimed_ms"`
}

// Queue is the shared compaction task queue. A single Queue instance per
// process serializes id assignment and claim exclusivity.
type Queue struct {
	db        *pebblestore.DB
	workerKey string

	mu      sync.Mutex
	lastMs  int64
	lastSeq int64

	now func() time.Time
}

// Open initializes the queue under "{prefix}:worker" and restores the last
// assigned task id.
func Open(db *pebblestore.DB, prefix string) (*Queue, error) {
	q := &Queue{db: db, workerKey: prefix + ":worker", now: time.Now}
	meta, err := db.Get(metaKey(q.workerKey))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, fmt.Errorf("taskqueue: load meta: %w", err)
	}
	if len(meta) >= 16 {
		q.lastMs = int64(binary.BigEndian.Uint64(meta[:8]))
		q.lastSeq = int64(binary.BigEndian.Uint64(meta[8:16]))
	}
	return q, nil
}

// WorkerKey returns the queue's key, "{prefix}:worker".
func (q *Queue) WorkerKey() string { return q.workerKey }

// nextID assigns a monotonically increasing clock id. Callers hold q.mu.
func (q *Queue) nextID() room.Clock {
	ms := q.now().UnixMilli()
	if ms <= q.lastMs {
		ms = q.lastMs
		q.lastSeq++
	} else {
		q.lastMs = ms
		q.lastSeq = 0
	}
	return room.Clock{Ms: ms, Seq: q.lastSeq}
}

func (q *Queue) stageMeta(b *pebble.Batch) error {
	var meta [16]byte
	binary.BigEndian.PutUint64(meta[:8], uint64(q.lastMs))
	binary.BigEndian.PutUint64(meta[8:], uint64(q.lastSeq))
	return b.Set(metaKey(q.workerKey), meta[:], nil)
}

// StageEnqueue stages exactly one outstanding compaction task for roomKey
// into b. If the room already has an outstanding task, nothing is staged and
// the existing id is returned. The new task is written pre-claimed by the
// "pending" owner so workers pick it up only after the debounce window.
// The caller commits b; the staged writes are atomic with the caller's own.
func (q *Queue) StageEnqueue(b *pebble.Batch, roomKey string) (taskID string, existing bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, err := q.db.Get(markerKey(q.workerKey, roomKey))
	if err == nil && len(cur) > 0 {
		return string(cur), true, nil
	}
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return "", false, fmt.Errorf("taskqueue: read marker: %w", err)
	}

	id := q.nextID()
	taskID = id.String()
	if err := b.Set(taskKey(q.workerKey, id), []byte(roomKey), nil); err != nil {
		return "", false, err
	}
	if err := q.stageMeta(b); err != nil {
		return "", false, err
	}
	if err := b.Set(markerKey(q.workerKey, roomKey), []byte(taskID), nil); err != nil {
		return "", false, err
	}
	ld, err := json.Marshal(lease{Owner: pendingOwner, ClaimedMs: q.now().UnixMilli()})
	if err != nil {
		return "", false, err
	}
	if err := b.Set(leaseKey(q.workerKey, taskID), ld, nil); err != nil {
		return "", false, err
	}
	return taskID, false, nil
}

// Enqueue adds an outstanding compaction task for roomKey in its own batch.
func (q *Queue) Enqueue(ctx context.Context, roomKey string) (string, error) {
	b := q.db.NewBatch()
	defer b.Close()
	id, existing, err := q.StageEnqueue(b, roomKey)
	if err != nil {
		return "", err
	}
	if existing {
		return id, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return "", fmt.Errorf("taskqueue: enqueue: %w", err)
	}
	return id, nil
}

// StageAck stages removal of a processed task into b: the task entry, its
// lease, and the room marker when it still points at this task.
func (q *Queue) StageAck(b *pebble.Batch, taskID string) error {
	id, err := room.ParseClock(taskID)
	if err != nil {
		return fmt.Errorf("taskqueue: ack %q: %w", taskID, err)
	}
	roomKey, err := q.db.Get(taskKey(q.workerKey, id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil // already acked
		}
		return fmt.Errorf("taskqueue: read task %q: %w", taskID, err)
	}
	if err := b.Delete(taskKey(q.workerKey, id), nil); err != nil {
		return err
	}
	if err := b.Delete(leaseKey(q.workerKey, taskID), nil); err != nil {
		return err
	}
	marker, err := q.db.Get(markerKey(q.workerKey, string(roomKey)))
	if err == nil && string(marker) == taskID {
		if err := b.Delete(markerKey(q.workerKey, string(roomKey)), nil); err != nil {
			return err
		}
	}
	return nil
}

// Ack removes a task after successful processing.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.db.NewBatch()
	defer b.Close()
	if err := q.StageAck(b, taskID); err != nil {
		return err
	}
	return q.db.CommitBatch(ctx, b)
}

// StageRequeue stages replacement of a processed task with a fresh one for
// the same room: the old entry and lease are removed, a new pre-claimed task
// is written, and the room marker is repointed. Used after a trim that left
// the room log non-empty, because newer entries may have arrived while the
// compaction ran.
func (q *Queue) StageRequeue(b *pebble.Batch, taskID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, err := room.ParseClock(taskID)
	if err != nil {
		return "", fmt.Errorf("taskqueue: requeue %q: %w", taskID, err)
	}
	roomKey, err := q.db.Get(taskKey(q.workerKey, id))
	if err != nil {
		return "", fmt.Errorf("taskqueue: read task %q: %w", taskID, err)
	}
	if err := b.Delete(taskKey(q.workerKey, id), nil); err != nil {
		return "", err
	}
	if err := b.Delete(leaseKey(q.workerKey, taskID), nil); err != nil {
		return "", err
	}

	next := q.nextID()
	nextID := next.String()
	if err := b.Set(taskKey(q.workerKey, next), roomKey, nil); err != nil {
		return "", err
	}
	if err := q.stageMeta(b); err != nil {
		return "", err
	}
	if err := b.Set(markerKey(q.workerKey, string(roomKey)), []byte(nextID), nil); err != nil {
		return "", err
	}
	ld, err := json.Marshal(lease{Owner: pendingOwner, ClaimedMs: q.now().UnixMilli()})
	if err != nil {
		return "", err
	}
	if err := b.Set(leaseKey(q.workerKey, nextID), ld, nil); err != nil {
		return "", err
	}
	return nextID, nil
}

// Claim atomically reassigns up to count tasks whose lease is absent or
// older than debounce to ownerID. A claimed task stays invisible to other
// owners for one debounce window.
func (q *Queue) Claim(ctx context.Context, count int, ownerID string, debounce time.Duration) ([]Task, error) {
	if count <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	low, hi := taskBounds(q.workerKey)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, fmt.Errorf("taskqueue: claim iter: %w", err)
	}
	defer iter.Close()

	nowMs := q.now().UnixMilli()
	b := q.db.NewBatch()
	defer b.Close()

	var tasks []Task
	for ok := iter.First(); ok && len(tasks) < count; ok = iter.Next() {
		taskID := taskIDFromKey(iter.Key()).String()
		cur, err := q.db.Get(leaseKey(q.workerKey, taskID))
		if err == nil && len(cur) > 0 {
			var l lease
			if json.Unmarshal(cur, &l) == nil && nowMs-l.ClaimedMs < debounce.Milliseconds() {
				continue // still owned
			}
		} else if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
			return nil, fmt.Errorf("taskqueue: read lease: %w", err)
		}
		ld, err := json.Marshal(lease{Owner: ownerID, ClaimedMs: nowMs})
		if err != nil {
			return nil, err
		}
		if err := b.Set(leaseKey(q.workerKey, taskID), ld, nil); err != nil {
			return nil, err
		}
		tasks = append(tasks, Task{ID: taskID, RoomKey: string(append([]byte(nil), iter.Value()...))})
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("taskqueue: claim commit: %w", err)
	}
	return tasks, nil
}

// Outstanding reports the id of the room's outstanding task, if any.
func (q *Queue) Outstanding(roomKey string) (string, bool) {
	v, err := q.db.Get(markerKey(q.workerKey, roomKey))
	if err != nil || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

// Len counts queued tasks. Intended for introspection and tests.
func (q *Queue) Len() (int, error) {
	low, hi := taskBounds(q.workerKey)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}

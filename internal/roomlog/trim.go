package roomlog

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/yjs/yhub/internal/room"
)

// Trim deletes entries that are both folded into a persisted snapshot
// (clock <= minClock) and older than maxAge. Capping the cutoff at minClock
// keeps entries a stalled compaction has not folded yet, regardless of age.
//
// In the same batch the originating task is resolved: deleted when the room
// log ends up empty, otherwise replaced with one fresh pre-claimed task
// because newer entries may have arrived while the compaction ran. Returns
// the number of deleted entries.
func (l *Log) Trim(ctx context.Context, rm room.Room, minClock room.Clock, maxAge time.Duration, taskID string) (int, error) {
	roomKey := l.Key(rm)

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.loadMeta(roomKey)
	if err != nil {
		return 0, err
	}

	low, hi := entryBounds(roomKey)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	cutoffMs := l.now().Add(-maxAge).UnixMilli()
	b := l.db.NewBatch()
	defer b.Close()

	deleted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		c := clockFromKey(iter.Key())
		if minClock.Less(c) || c.Ms >= cutoffMs {
			break
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return 0, err
		}
		deleted++
	}

	updated := roomMeta{last: m.last, count: m.count - int64(deleted)}
	if updated.count < 0 {
		updated.count = 0
	}
	if err := b.Set(metaKey(roomKey), encodeMeta(&updated), nil); err != nil {
		return 0, err
	}

	if taskID != "" {
		if updated.count == 0 {
			if err := l.queue.StageAck(b, taskID); err != nil {
				return 0, err
			}
		} else {
			if _, err := l.queue.StageRequeue(b, taskID); err != nil {
				return 0, err
			}
		}
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("roomlog: trim: %w", err)
	}
	*m = updated
	return deleted, nil
}

// Len reports the room's live entry count.
func (l *Log) Len(rm room.Room) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.loadMeta(l.Key(rm))
	if err != nil {
		return 0, err
	}
	return m.count, nil
}

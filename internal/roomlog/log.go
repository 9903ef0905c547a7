package roomlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yjs/yhub/internal/room"
	pebblestore "github.com/yjs/yhub/internal/storage/pebble"
	"github.com/yjs/yhub/internal/taskqueue"
)

// roomMeta is the cached per-room tail state, mirrored in the meta key.
type roomMeta struct {
	last  room.Clock
	count int64
}

// Log is the durable per-room append log. One Log instance per process owns
// clock assignment and meta maintenance for every room in the deployment.
type Log struct {
	db     *pebblestore.DB
	queue  *taskqueue.Queue
	prefix string

	mu   sync.Mutex
	meta map[string]*roomMeta

	notifyMu sync.Mutex
	notifyCh chan struct{}

	now func() time.Time
}

// Open returns a Log writing under the given deployment prefix. The queue
// receives the conditional compaction tasks staged by Append and Trim.
func Open(db *pebblestore.DB, queue *taskqueue.Queue, prefix string) *Log {
	return &Log{
		db:       db,
		queue:    queue,
		prefix:   prefix,
		meta:     make(map[string]*roomMeta),
		notifyCh: make(chan struct{}),
		now:      time.Now,
	}
}

// Prefix returns the deployment key prefix.
func (l *Log) Prefix() string { return l.prefix }

// Key returns rm's stream key under the log's prefix.
func (l *Log) Key(rm room.Room) string { return room.EncodeKey(rm, l.prefix) }

// loadMeta returns the cached meta for roomKey, reading it from the store on
// first use. Callers hold l.mu.
func (l *Log) loadMeta(roomKey string) (*roomMeta, error) {
	if m, ok := l.meta[roomKey]; ok {
		return m, nil
	}
	m := &roomMeta{}
	raw, err := l.db.Get(metaKey(roomKey))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, fmt.Errorf("roomlog: load meta: %w", err)
	}
	if len(raw) >= 24 {
		m.last.Ms = int64(binary.BigEndian.Uint64(raw[:8]))
		m.last.Seq = int64(binary.BigEndian.Uint64(raw[8:16]))
		m.count = int64(binary.BigEndian.Uint64(raw[16:24]))
	}
	l.meta[roomKey] = m
	return m, nil
}

func encodeMeta(m *roomMeta) []byte {
	var raw [24]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(m.last.Ms))
	binary.BigEndian.PutUint64(raw[8:16], uint64(m.last.Seq))
	binary.BigEndian.PutUint64(raw[16:24], uint64(m.count))
	return raw[:]
}

// Append atomically assigns the entry the room's next clock and writes it.
// When the room log turns from empty to non-empty, exactly one compaction
// task is staged into the same batch; either both writes land or neither.
func (l *Log) Append(ctx context.Context, rm room.Room, e Entry) (room.Clock, error) {
	if e.Kind != KindUpdate && e.Kind != KindAwareness {
		return room.Clock{}, fmt.Errorf("roomlog: unknown entry kind %d", e.Kind)
	}
	if e.Kind == KindAwareness && len(e.Attribution) > 0 {
		return room.Clock{}, errors.New("roomlog: awareness entries carry no attribution")
	}
	roomKey := l.Key(rm)

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.loadMeta(roomKey)
	if err != nil {
		return room.Clock{}, err
	}
	next := room.Clock{Ms: l.now().UnixMilli()}
	if next.Ms <= m.last.Ms {
		next = room.Clock{Ms: m.last.Ms, Seq: m.last.Seq + 1}
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(roomKey, next), encodeEntry(e), nil); err != nil {
		return room.Clock{}, err
	}
	updated := roomMeta{last: next, count: m.count + 1}
	if err := b.Set(metaKey(roomKey), encodeMeta(&updated), nil); err != nil {
		return room.Clock{}, err
	}
	if m.count == 0 {
		if _, _, err := l.queue.StageEnqueue(b, roomKey); err != nil {
			return room.Clock{}, err
		}
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return room.Clock{}, fmt.Errorf("roomlog: append: %w", err)
	}
	*m = updated
	l.wake()
	return next, nil
}

// wake broadcasts to blocked readers.
func (l *Log) wake() {
	l.notifyMu.Lock()
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	l.notifyMu.Unlock()
}

// WaitForAppend blocks until any room receives an append, the timeout
// elapses, or ctx is done. Returns true when woken by an append.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	l.notifyMu.Lock()
	ch := l.notifyCh
	l.notifyMu.Unlock()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

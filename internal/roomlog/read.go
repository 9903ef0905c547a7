package roomlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/yjs/yhub/internal/room"
)

// ReadOptions bounds a catch-up read.
type ReadOptions struct {
	// Limit caps the number of returned entries. Zero means unlimited.
	Limit int
	// Block waits up to this duration for entries when none are available.
	// Zero returns immediately.
	Block time.Duration
}

// ReadResult is one room's read output. LastClock is the newest returned
// entry clock, or the caller's since-clock when nothing was returned.
type ReadResult struct {
	Items     []Item
	LastClock room.Clock
}

// Position names a room and the watermark to read past.
type Position struct {
	Room  room.Room
	Since room.Clock
}

// RoomBatch is one room's slice of a ReadMany result.
type RoomBatch struct {
	Room      room.Room
	RoomKey   string
	Items     []Item
	LastClock room.Clock
}

// Read returns entries with clock > since, up to opts.Limit. With opts.Block
// set it waits briefly for new entries before giving up.
func (l *Log) Read(ctx context.Context, rm room.Room, since room.Clock, opts ReadOptions) (ReadResult, error) {
	roomKey := l.Key(rm)
	items, err := l.readSince(roomKey, since, opts.Limit)
	if err != nil {
		return ReadResult{}, err
	}
	if len(items) == 0 && opts.Block > 0 {
		if l.WaitForAppend(ctx, opts.Block) {
			if items, err = l.readSince(roomKey, since, opts.Limit); err != nil {
				return ReadResult{}, err
			}
		}
	}
	res := ReadResult{Items: items, LastClock: since}
	if n := len(items); n > 0 {
		res.LastClock = items[n-1].Clock
	}
	return res, nil
}

// ReadMany performs one read pass across many rooms, returning a batch for
// every room that had entries past its watermark. With blocking set it waits
// one bounded interval for appends when the first pass comes back empty, so
// the multiplexer loop can re-merge subscriptions at a steady cadence.
func (l *Log) ReadMany(ctx context.Context, positions []Position, blocking bool) ([]RoomBatch, error) {
	read := func() ([]RoomBatch, error) {
		var out []RoomBatch
		for _, p := range positions {
			roomKey := l.Key(p.Room)
			items, err := l.readSince(roomKey, p.Since, 0)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				continue
			}
			out = append(out, RoomBatch{
				Room:      p.Room,
				RoomKey:   roomKey,
				Items:     items,
				LastClock: items[len(items)-1].Clock,
			})
		}
		return out, nil
	}
	batches, err := read()
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 && blocking {
		if l.WaitForAppend(ctx, readManyBlock) {
			return read()
		}
	}
	return batches, nil
}

// readManyBlock bounds a blocking ReadMany pass. Short enough that the
// multiplexer re-merges pending subscriptions at a responsive cadence.
const readManyBlock = 200 * time.Millisecond

// readSince scans entries with clock strictly greater than since.
func (l *Log) readSince(roomKey string, since room.Clock, limit int) ([]Item, error) {
	low, hi := entryBounds(roomKey)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []Item
	start := entryKey(roomKey, room.Clock{Ms: since.Ms, Seq: since.Seq + 1})
	for ok := iter.SeekGE(start); ok && (limit == 0 || len(items) < limit); ok = iter.Next() {
		e, valid := decodeEntry(iter.Value())
		if !valid {
			continue
		}
		items = append(items, Item{Clock: clockFromKey(iter.Key()), Entry: e})
	}
	return items, nil
}

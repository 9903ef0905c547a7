package roomlog

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/yjs/yhub/internal/room"
)

func TestReadCatchUpReturnsEntriesInOrder(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	c1, err := l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("U1")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	c2, err := l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("U2")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	res, err := l.Read(ctx, testRoom, room.Clock{}, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Items))
	}
	if !bytes.Equal(res.Items[0].Entry.Update, []byte("U1")) || !bytes.Equal(res.Items[1].Entry.Update, []byte("U2")) {
		t.Fatalf("entries out of order")
	}
	if res.Items[0].Clock != c1 || res.Items[1].Clock != c2 {
		t.Fatalf("clock mismatch")
	}
	if res.LastClock != c2 {
		t.Fatalf("lastClock = %v, want %v", res.LastClock, c2)
	}
}

func TestReadSinceSkipsSeenEntries(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	c1, _ := l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("U1")})
	l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("U2")})

	res, err := l.Read(ctx, testRoom, c1, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Items) != 1 || !bytes.Equal(res.Items[0].Entry.Update, []byte("U2")) {
		t.Fatalf("expected only U2, got %d items", len(res.Items))
	}
}

func TestReadLimit(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte{byte(i)}})
	}
	res, err := l.Read(ctx, testRoom, room.Clock{}, ReadOptions{Limit: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Items) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Items))
	}
}

func TestReadEmptyRoomKeepsWatermark(t *testing.T) {
	l, _ := newTestLog(t)
	since := room.Clock{Ms: 42, Seq: 1}
	res, err := l.Read(context.Background(), testRoom, since, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(res.Items) != 0 || res.LastClock != since {
		t.Fatalf("expected empty result with unchanged watermark, got %+v", res)
	}
}

func TestReadBlockingWokenByAppend(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	type out struct {
		res ReadResult
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := l.Read(ctx, testRoom, room.Clock{}, ReadOptions{Block: 2 * time.Second})
		ch <- out{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("late")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case o := <-ch:
		if o.err != nil {
			t.Fatalf("read: %v", o.err)
		}
		if len(o.res.Items) != 1 {
			t.Fatalf("expected the late entry, got %d items", len(o.res.Items))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("blocking read never returned")
	}
}

func TestReadManyBatchesPerRoom(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	roomB := room.Room{Org: "acme", DocID: "doc2", Branch: "main"}
	l.Append(ctx, testRoom, Entry{Kind: KindUpdate, Update: []byte("a1")})
	l.Append(ctx, roomB, Entry{Kind: KindUpdate, Update: []byte("b1")})
	l.Append(ctx, roomB, Entry{Kind: KindAwareness, Update: []byte("b2")})

	batches, err := l.ReadMany(ctx, []Position{
		{Room: testRoom},
		{Room: roomB},
		{Room: room.Room{Org: "empty", DocID: "d", Branch: "main"}},
	}, false)
	if err != nil {
		t.Fatalf("readMany: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected batches for 2 rooms, got %d", len(batches))
	}
	byKey := map[string]RoomBatch{}
	for _, b := range batches {
		byKey[b.RoomKey] = b
	}
	if got := byKey[l.Key(roomB)]; len(got.Items) != 2 {
		t.Fatalf("roomB batch: %+v", got)
	}
}

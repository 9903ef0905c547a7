package assembler

import (
	"context"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yjs/yhub/internal/docengine"
	"github.com/yjs/yhub/internal/persistence"
	"github.com/yjs/yhub/internal/room"
	"github.com/yjs/yhub/internal/roomlog"
	pebblestore "github.com/yjs/yhub/internal/storage/pebble"
	"github.com/yjs/yhub/internal/taskqueue"
)

var testRoom = room.Room{Org: "acme", DocID: "doc1", Branch: "main"}

func newTestAssembler(t *testing.T) (*Assembler, *roomlog.Log, *persistence.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dir, "log"), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := taskqueue.Open(db, "yhub")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	l := roomlog.Open(db, q, "yhub")

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(dir, "snapshots.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	store, err := persistence.Open(gdb, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(l, store, docengine.NewUnion()), l, store
}

func TestAssembleEmptyRoom(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	doc, err := a.Assemble(context.Background(), testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !doc.LastClock.IsZero() || !doc.LastPersistedClock.IsZero() {
		t.Fatalf("empty room has clocks: %+v", doc)
	}
	if doc.Changed() {
		t.Fatalf("empty room reported as changed")
	}
	if len(doc.GCDoc) != 0 || len(doc.NonGCDoc) != 0 {
		t.Fatalf("empty room has content: %+v", doc)
	}
}

func TestAssembleFoldsLogEntries(t *testing.T) {
	a, l, _ := newTestAssembler(t)
	ctx := context.Background()

	l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u1"), Attribution: []byte("alice")})
	c2, err := l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u2"), Attribution: []byte("bob")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	doc, err := a.Assemble(ctx, testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if doc.LastClock != c2 {
		t.Fatalf("last clock %v, want %v", doc.LastClock, c2)
	}
	if !doc.Changed() {
		t.Fatalf("expected changed state")
	}
	if string(doc.GCDoc) != "u1\nu2" || string(doc.NonGCDoc) != "u1\nu2" {
		t.Fatalf("docs: gc=%q nongc=%q", doc.GCDoc, doc.NonGCDoc)
	}
	if string(doc.AttributionMap) != "alice\nbob" {
		t.Fatalf("attribution map: %q", doc.AttributionMap)
	}
	if string(doc.AttributionIDs) != "alice\nbob" {
		t.Fatalf("attribution ids: %q", doc.AttributionIDs)
	}
}

func TestAssembleSkipsAlreadyFoldedEntries(t *testing.T) {
	a, l, store := newTestAssembler(t)
	ctx := context.Background()

	// First entry is already reflected in a persisted snapshot carrying
	// different content; folding it again would leak "u1" into the doc.
	c1, err := l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u1")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	err = store.Store(ctx, testRoom, persistence.Snapshot{LastClock: c1, GCDoc: []byte("snap"), NonGCDoc: []byte("snap")})
	if err != nil {
		t.Fatalf("store snapshot: %v", err)
	}
	c2, err := l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u2")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	doc, err := a.Assemble(ctx, testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if string(doc.GCDoc) != "snap\nu2" {
		t.Fatalf("gc doc %q, want snapshot plus the newer entry only", doc.GCDoc)
	}
	if doc.LastPersistedClock != c1 || doc.LastClock != c2 {
		t.Fatalf("clocks: persisted=%v last=%v", doc.LastPersistedClock, doc.LastClock)
	}
}

func TestAssembleMergesMultipleSnapshotRows(t *testing.T) {
	a, _, store := newTestAssembler(t)
	ctx := context.Background()

	for i, content := range []string{"rowA", "rowB"} {
		err := store.Store(ctx, testRoom, persistence.Snapshot{
			LastClock: room.Clock{Ms: int64(100 * (i + 1))},
			GCDoc:     []byte(content),
		})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	doc, err := a.Assemble(ctx, testRoom, Include{GC: true})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if string(doc.GCDoc) != "rowA\nrowB" {
		t.Fatalf("gc doc %q", doc.GCDoc)
	}
	if doc.Changed() {
		t.Fatalf("no log entries past the snapshots, must be a no-op")
	}
	// Unrequested fields stay nil.
	if doc.NonGCDoc != nil || doc.AttributionMap != nil || doc.References != nil {
		t.Fatalf("unrequested fields populated: %+v", doc)
	}
}

func TestAssembleIgnoresAwarenessContent(t *testing.T) {
	a, l, _ := newTestAssembler(t)
	ctx := context.Background()

	l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u1")})
	c2, err := l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindAwareness, Update: []byte("presence")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	doc, err := a.Assemble(ctx, testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if string(doc.GCDoc) != "u1" {
		t.Fatalf("awareness leaked into doc: %q", doc.GCDoc)
	}
	// Awareness still advances the watermark so trimming covers it.
	if doc.LastClock != c2 {
		t.Fatalf("last clock %v, want %v", doc.LastClock, c2)
	}
}

func TestAssembleIsIdempotent(t *testing.T) {
	a, l, _ := newTestAssembler(t)
	ctx := context.Background()
	l.Append(ctx, testRoom, roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte("u1")})

	first, err := a.Assemble(ctx, testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	second, err := a.Assemble(ctx, testRoom, All())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if string(first.GCDoc) != string(second.GCDoc) || first.LastClock != second.LastClock {
		t.Fatalf("re-assembly diverged: %+v vs %+v", first, second)
	}
}

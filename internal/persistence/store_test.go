package persistence_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yjs/yhub/internal/persistence"
	"github.com/yjs/yhub/internal/persistence/fsblob"
	"github.com/yjs/yhub/internal/room"
)

var testRoom = room.Room{Org: "acme", DocID: "doc1", Branch: "main"}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "snapshots.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestStore(t *testing.T, db *gorm.DB, plugins ...persistence.Plugin) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(db, plugins, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func allFields() persistence.Include {
	return persistence.Include{GC: true, NonGC: true, AttributionMap: true, AttributionIDs: true, References: true}
}

func TestStoreAndRetrieveInline(t *testing.T) {
	s := newTestStore(t, openTestDB(t))
	ctx := context.Background()

	snap := persistence.Snapshot{
		LastClock:      room.Clock{Ms: 100, Seq: 1},
		GCDoc:          []byte("gc"),
		NonGCDoc:       []byte("nongc"),
		AttributionMap: []byte("attrmap"),
		AttributionIDs: []byte("attrids"),
	}
	if err := s.Store(ctx, testRoom, snap); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.Retrieve(ctx, testRoom, allFields())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.LastClock != snap.LastClock {
		t.Fatalf("last clock %v, want %v", got.LastClock, snap.LastClock)
	}
	if len(got.GCDoc) != 1 || !bytes.Equal(got.GCDoc[0], []byte("gc")) {
		t.Fatalf("gc doc: %v", got.GCDoc)
	}
	if len(got.NonGCDoc) != 1 || !bytes.Equal(got.NonGCDoc[0], []byte("nongc")) {
		t.Fatalf("nongc doc: %v", got.NonGCDoc)
	}
	if len(got.References) != 4 {
		t.Fatalf("expected 4 references, got %d", len(got.References))
	}
	for _, ref := range got.References {
		if ref.Asset.Retrievable() {
			t.Fatalf("inline asset marked retrievable: %+v", ref)
		}
	}
}

func TestRetrieveRowsAccumulate(t *testing.T) {
	s := newTestStore(t, openTestDB(t))
	ctx := context.Background()

	for _, c := range []room.Clock{{Ms: 100}, {Ms: 200, Seq: 3}} {
		err := s.Store(ctx, testRoom, persistence.Snapshot{LastClock: c, GCDoc: []byte(c.String())})
		if err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	got, err := s.Retrieve(ctx, testRoom, persistence.Include{GC: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.LastClock != (room.Clock{Ms: 200, Seq: 3}) {
		t.Fatalf("last clock %v", got.LastClock)
	}
	if len(got.GCDoc) != 2 {
		t.Fatalf("expected 2 gc fragments, got %d", len(got.GCDoc))
	}
	// Unrequested fields stay empty and no references are collected.
	if got.NonGCDoc != nil || got.References != nil {
		t.Fatalf("unrequested fields populated: %+v", got)
	}
}

func TestFsblobOffloadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	plugin := fsblob.New(fs, "/blobs", 4)
	s := newTestStore(t, openTestDB(t), plugin)
	ctx := context.Background()

	snap := persistence.Snapshot{
		LastClock: room.Clock{Ms: 100},
		GCDoc:     []byte("large enough to offload"),
		NonGCDoc:  []byte("big"), // under the threshold, stays inline
	}
	if err := s.Store(ctx, testRoom, snap); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.Retrieve(ctx, testRoom, allFields())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got.GCDoc) != 1 || !bytes.Equal(got.GCDoc[0], snap.GCDoc) {
		t.Fatalf("offloaded bytes not recovered: %v", got.GCDoc)
	}
	if len(got.NonGCDoc) != 1 || !bytes.Equal(got.NonGCDoc[0], []byte("big")) {
		t.Fatalf("inline bytes not recovered: %v", got.NonGCDoc)
	}

	var offloaded int
	for _, ref := range got.References {
		if ref.Asset.Retrievable() {
			offloaded++
		}
	}
	if offloaded != 1 {
		t.Fatalf("expected exactly the gc doc offloaded, got %d markers", offloaded)
	}
}

func TestRetrieveDropsUnresolvableBlob(t *testing.T) {
	db := openTestDB(t)
	fs := afero.NewMemMapFs()
	withPlugin := newTestStore(t, db, fsblob.New(fs, "/blobs", 1))
	ctx := context.Background()

	err := withPlugin.Store(ctx, testRoom, persistence.Snapshot{
		LastClock: room.Clock{Ms: 100},
		GCDoc:     []byte("offloaded"),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	// A store without the plugin cannot resolve the marker. The fragment is
	// lost, the assembly is not.
	bare := newTestStore(t, db)
	got, err := bare.Retrieve(ctx, testRoom, persistence.Include{GC: true, References: true})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got.GCDoc) != 0 {
		t.Fatalf("expected lost fragment, got %v", got.GCDoc)
	}
	if len(got.References) != 1 {
		t.Fatalf("reference must survive for cleanup, got %d", len(got.References))
	}
}

func TestDeleteReferencesRemovesRowsAndBlobs(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, openTestDB(t), fsblob.New(fs, "/blobs", 1))
	ctx := context.Background()

	err := s.Store(ctx, testRoom, persistence.Snapshot{
		LastClock: room.Clock{Ms: 100},
		GCDoc:     []byte("old state"),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Retrieve(ctx, testRoom, allFields())
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	blobPath := ""
	for _, ref := range got.References {
		if ref.Asset.Retrievable() {
			blobPath = filepath.Join("/blobs", filepath.FromSlash(ref.ID.String()))
		}
	}
	if blobPath == "" {
		t.Fatalf("expected an offloaded reference")
	}
	if ok, _ := afero.Exists(fs, blobPath); !ok {
		t.Fatalf("blob file missing before delete: %s", blobPath)
	}

	if err := s.DeleteReferences(ctx, got.References); err != nil {
		t.Fatalf("delete references: %v", err)
	}

	after, err := s.Retrieve(ctx, testRoom, allFields())
	if err != nil {
		t.Fatalf("retrieve after delete: %v", err)
	}
	if len(after.GCDoc) != 0 || !after.LastClock.IsZero() {
		t.Fatalf("superseded row still visible: %+v", after)
	}
	if ok, _ := afero.Exists(fs, blobPath); ok {
		t.Fatalf("offloaded blob not cleaned up")
	}
}

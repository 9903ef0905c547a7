package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yjs/yhub/internal/room"
)

// snapshotRow is one persisted compaction result. The blob columns hold
// JSON-encoded Asset envelopes, inline or retrievable.
type snapshotRow struct {
	Org            string `gorm:"column:org;primaryKey;size:190;not null"`
	DocID          string `gorm:"column:docid;primaryKey;size:190;not null"`
	Branch         string `gorm:"column:branch;primaryKey;size:190;not null"`
	Clock          string `gorm:"column:clock;primaryKey;size:64;not null"`
	Created        int64  `gorm:"column:created;not null"`
	GCDoc          []byte `gorm:"column:gc_doc"`
	NonGCDoc       []byte `gorm:"column:nongc_doc"`
	AttributionMap []byte `gorm:"column:attribution_map"`
	AttributionIDs []byte `gorm:"column:attribution_ids"`
}

func (snapshotRow) TableName() string { return "yhub_snapshots_v1" }

// Snapshot is the merged state a compaction persists.
type Snapshot struct {
	LastClock      room.Clock
	GCDoc          []byte
	NonGCDoc       []byte
	AttributionMap []byte
	AttributionIDs []byte
}

// Include selects which row fields Retrieve resolves. Unrequested fields
// skip asset decoding entirely.
type Include struct {
	GC             bool
	NonGC          bool
	AttributionMap bool
	AttributionIDs bool
	References     bool
}

// Retrieved holds the unmerged per-row fragments of a room. Slices are in
// row order; the caller merges them through the document engine.
type Retrieved struct {
	LastClock      room.Clock
	GCDoc          [][]byte
	NonGCDoc       [][]byte
	AttributionMap [][]byte
	AttributionIDs [][]byte
	References     []Reference
}

// Store persists snapshots through a gorm connection and a plugin chain.
type Store struct {
	db      *gorm.DB
	plugins []Plugin
	logger  *zap.Logger
}

// Open migrates the snapshot table and returns a ready store.
func Open(db *gorm.DB, plugins []Plugin, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot table: %w", err)
	}
	return &Store{db: db, plugins: plugins, logger: logger}, nil
}

// Store inserts one snapshot row, offloading each blob field through the
// plugin chain first. The four fields are offered concurrently.
func (s *Store) Store(ctx context.Context, rm room.Room, snap Snapshot) error {
	type field struct {
		id   AssetID
		data []byte
		out  *[]byte
	}
	row := snapshotRow{
		Org:     rm.Org,
		DocID:   rm.DocID,
		Branch:  rm.Branch,
		Clock:   snap.LastClock.String(),
		Created: snap.LastClock.Ms,
	}
	fields := []field{
		{AssetID{Kind: KindDoc, Room: rm, Clock: snap.LastClock, GC: true}, snap.GCDoc, &row.GCDoc},
		{AssetID{Kind: KindDoc, Room: rm, Clock: snap.LastClock}, snap.NonGCDoc, &row.NonGCDoc},
		{AssetID{Kind: KindAttributionMap, Room: rm, Clock: snap.LastClock}, snap.AttributionMap, &row.AttributionMap},
		{AssetID{Kind: KindAttributionIDs, Room: rm, Clock: snap.LastClock}, snap.AttributionIDs, &row.AttributionIDs},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fields {
		f := f
		g.Go(func() error {
			asset, err := tryStore(gctx, s.plugins, f.id, Inline(f.data))
			if err != nil {
				return fmt.Errorf("offload asset %s: %w", f.id, err)
			}
			enc, err := json.Marshal(asset)
			if err != nil {
				return err
			}
			*f.out = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert snapshot row: %w", err)
	}
	s.logger.Debug("snapshot persisted",
		zap.String("room", rm.DocID),
		zap.String("clock", snap.LastClock.String()))
	return nil
}

// Retrieve reads all snapshot rows of a room and resolves the requested
// fields. A field whose bytes cannot be recovered is logged and dropped;
// the remaining rows still assemble.
func (s *Store) Retrieve(ctx context.Context, rm room.Room, inc Include) (*Retrieved, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Where("org = ? AND docid = ? AND branch = ?", rm.Org, rm.DocID, rm.Branch).
		Order("created asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select snapshot rows: %w", err)
	}
	out := &Retrieved{}
	for _, r := range rows {
		c, err := room.ParseClock(r.Clock)
		if err != nil {
			return nil, fmt.Errorf("snapshot row clock %q: %w", r.Clock, err)
		}
		if out.LastClock.Less(c) {
			out.LastClock = c
		}
		if inc.GC {
			id := AssetID{Kind: KindDoc, Room: rm, Clock: c, GC: true}
			out.GCDoc = s.resolve(ctx, out, id, r.GCDoc, inc.References, out.GCDoc)
		}
		if inc.NonGC {
			id := AssetID{Kind: KindDoc, Room: rm, Clock: c}
			out.NonGCDoc = s.resolve(ctx, out, id, r.NonGCDoc, inc.References, out.NonGCDoc)
		}
		if inc.AttributionMap {
			id := AssetID{Kind: KindAttributionMap, Room: rm, Clock: c}
			out.AttributionMap = s.resolve(ctx, out, id, r.AttributionMap, inc.References, out.AttributionMap)
		}
		if inc.AttributionIDs {
			id := AssetID{Kind: KindAttributionIDs, Room: rm, Clock: c}
			out.AttributionIDs = s.resolve(ctx, out, id, r.AttributionIDs, inc.References, out.AttributionIDs)
		}
	}
	return out, nil
}

// resolve decodes one row column, records its reference and resolves its
// bytes. On retrieval failure the fragment is dropped, not the assembly.
func (s *Store) resolve(ctx context.Context, ret *Retrieved, id AssetID, col []byte, wantRef bool, dst [][]byte) [][]byte {
	if len(col) == 0 {
		return dst
	}
	var asset Asset
	if err := json.Unmarshal(col, &asset); err != nil {
		s.logger.Error("undecodable asset column", zap.String("asset", id.String()), zap.Error(err))
		return dst
	}
	if wantRef {
		ret.References = append(ret.References, Reference{ID: id, Asset: asset})
	}
	resolved, err := tryRetrieve(ctx, s.plugins, id, asset)
	if err != nil {
		s.logger.Error("asset bytes lost", zap.String("asset", id.String()), zap.Error(err))
		return dst
	}
	return append(dst, resolved.Data)
}

// DeleteReferences removes superseded rows and their offloaded assets. Blob
// deletion is best effort; row deletion decides visibility.
func (s *Store) DeleteReferences(ctx context.Context, refs []Reference) error {
	for _, ref := range refs {
		if !ref.Asset.Retrievable() {
			continue
		}
		for _, p := range s.plugins {
			d, ok := p.(Deleter)
			if !ok {
				continue
			}
			owned, err := d.Delete(ctx, ref.ID, ref.Asset)
			if err != nil {
				s.logger.Warn("blob delete failed",
					zap.String("asset", ref.ID.String()),
					zap.String("plugin", p.PluginID()),
					zap.Error(err))
			}
			if owned {
				break
			}
		}
	}
	type rowKey struct {
		rm    room.Room
		clock string
	}
	seen := make(map[rowKey]struct{})
	for _, ref := range refs {
		k := rowKey{ref.ID.Room, ref.ID.Clock.String()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		err := s.db.WithContext(ctx).
			Where("org = ? AND docid = ? AND branch = ? AND clock = ?",
				k.rm.Org, k.rm.DocID, k.rm.Branch, k.clock).
			Delete(&snapshotRow{}).Error
		if err != nil {
			return fmt.Errorf("delete snapshot row %s@%s: %w", k.rm.DocID, k.clock, err)
		}
	}
	return nil
}

package assembler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/yjs/yhub/internal/docengine"
	"github.com/yjs/yhub/internal/persistence"
	"github.com/yjs/yhub/internal/room"
	"github.com/yjs/yhub/internal/roomlog"
)

// Include selects which materialized fields to build. Skipped fields avoid
// their merge work entirely; live-sync catch-up only ever needs GC.
type Include struct {
	GC             bool
	NonGC          bool
	AttributionMap bool
	AttributionIDs bool
	References     bool
}

// All requests every field, the shape compaction needs.
func All() Include {
	return Include{GC: true, NonGC: true, AttributionMap: true, AttributionIDs: true, References: true}
}

// MaterializedDoc is the fully merged state of a room at assembly time.
// Unrequested fields are nil.
type MaterializedDoc struct {
	// LastClock is the newest clock reflected in the materialized state,
	// never smaller than LastPersistedClock.
	LastClock room.Clock
	// LastPersistedClock is the newest snapshot row clock. Equal clocks mean
	// the log holds nothing new.
	LastPersistedClock room.Clock
	GCDoc              []byte
	NonGCDoc           []byte
	AttributionMap     []byte
	AttributionIDs     []byte
	References         []persistence.Reference
}

// Changed reports whether the materialized state advanced past the last
// persisted snapshot.
func (d *MaterializedDoc) Changed() bool {
	return d.LastPersistedClock.Less(d.LastClock)
}

// Assembler merges snapshot rows and log entries through the document
// engine.
type Assembler struct {
	log    *roomlog.Log
	store  *persistence.Store
	engine docengine.Engine
}

func New(log *roomlog.Log, store *persistence.Store, engine docengine.Engine) *Assembler {
	return &Assembler{log: log, store: store, engine: engine}
}

// Assemble fetches the room's snapshot rows and a full catch-up read of its
// log concurrently, then merges the requested fields. Log entries whose
// clock is not past the persisted clock are already reflected in a snapshot
// and are skipped.
func (a *Assembler) Assemble(ctx context.Context, rm room.Room, inc Include) (*MaterializedDoc, error) {
	var (
		persisted *persistence.Retrieved
		caught    roomlog.ReadResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		persisted, err = a.store.Retrieve(gctx, rm, persistence.Include{
			GC:             inc.GC,
			NonGC:          inc.NonGC,
			AttributionMap: inc.AttributionMap,
			AttributionIDs: inc.AttributionIDs,
			References:     inc.References,
		})
		return err
	})
	g.Go(func() error {
		var err error
		caught, err = a.log.Read(gctx, rm, room.Clock{}, roomlog.ReadOptions{})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &MaterializedDoc{
		LastPersistedClock: persisted.LastClock,
		LastClock:          room.MaxClock(persisted.LastClock, caught.LastClock),
		References:         persisted.References,
	}
	gcFrags := persisted.GCDoc
	nongcFrags := persisted.NonGCDoc
	idFrags := persisted.AttributionIDs

	// The attribution map folds per entry: an entry only contributes the
	// attributions not already present, so replayed updates cannot re-stamp
	// content that an older snapshot already attributes.
	var attrMap []byte
	var err error
	if inc.AttributionMap {
		if attrMap, err = a.engine.MergeAttributions(persisted.AttributionMap); err != nil {
			return nil, fmt.Errorf("merge persisted attribution map: %w", err)
		}
	}
	for _, it := range caught.Items {
		if !persisted.LastClock.Less(it.Clock) {
			continue
		}
		if it.Entry.Kind != roomlog.KindUpdate {
			// Awareness entries are ephemeral presence, never materialized.
			continue
		}
		if inc.GC {
			gcFrags = append(gcFrags, it.Entry.Update)
		}
		if inc.NonGC {
			nongcFrags = append(nongcFrags, it.Entry.Update)
		}
		if len(it.Entry.Attribution) > 0 {
			if inc.AttributionMap {
				fresh, err := a.engine.ExcludeAttributions(it.Entry.Attribution, attrMap)
				if err != nil {
					return nil, fmt.Errorf("exclude known attributions at %s: %w", it.Clock, err)
				}
				if attrMap, err = a.engine.MergeAttributions([][]byte{attrMap, fresh}); err != nil {
					return nil, fmt.Errorf("fold attribution map at %s: %w", it.Clock, err)
				}
			}
			if inc.AttributionIDs {
				ids, err := a.engine.AttributionIDs(it.Entry.Attribution)
				if err != nil {
					return nil, fmt.Errorf("derive attribution ids at %s: %w", it.Clock, err)
				}
				idFrags = append(idFrags, ids)
			}
		}
	}

	if inc.GC {
		if doc.GCDoc, err = a.engine.MergeUpdates(gcFrags); err != nil {
			return nil, fmt.Errorf("merge gc doc: %w", err)
		}
	}
	if inc.NonGC {
		if doc.NonGCDoc, err = a.engine.MergeUpdates(nongcFrags); err != nil {
			return nil, fmt.Errorf("merge nongc doc: %w", err)
		}
	}
	doc.AttributionMap = attrMap
	if inc.AttributionIDs {
		if doc.AttributionIDs, err = a.engine.MergeAttributions(idFrags); err != nil {
			return nil, fmt.Errorf("merge attribution ids: %w", err)
		}
	}
	return doc, nil
}

package mux

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yjs/yhub/internal/room"
	"github.com/yjs/yhub/internal/roomlog"
)

// DeliverFunc receives the entries a subscriber has not seen yet, in clock
// order. It runs on the multiplexer loop, so it must not block.
type DeliverFunc func(items []roomlog.Item)

// Subscription is one live session attached to a room. The watermark is
// owned by the loop; callers only hold the handle for Unsubscribe.
type Subscription struct {
	id        uint64
	rm        room.Room
	roomKey   string
	watermark room.Clock
	deliver   DeliverFunc
	filter    entryFilter
	removed   atomic.Bool
}

// Room returns the room this subscription is attached to.
func (s *Subscription) Room() room.Room { return s.rm }

type intent struct {
	sub *Subscription
	add bool
}

// Multiplexer fans room log entries out to subscribers from one loop. The
// loop starts lazily on the first subscribe and stops when the last
// subscriber leaves.
type Multiplexer struct {
	log    *roomlog.Log
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextID  uint64
	pending []intent
	running bool
}

func New(log *roomlog.Log, logger *zap.Logger) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Multiplexer{log: log, logger: logger, ctx: ctx, cancel: cancel}
}

// Subscribe attaches a session to a room, delivering entries with clock
// past since. filterExpr is an optional CEL expression over kind, size,
// ts_ms and now_ms; entries it rejects are skipped but still advance the
// watermark.
func (m *Multiplexer) Subscribe(rm room.Room, since room.Clock, filterExpr string, deliver DeliverFunc) (*Subscription, error) {
	f, err := newEntryFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		rm:        rm,
		roomKey:   m.log.Key(rm),
		watermark: since,
		deliver:   deliver,
		filter:    f,
	}
	m.mu.Lock()
	m.nextID++
	s.id = m.nextID
	m.pending = append(m.pending, intent{sub: s, add: true})
	if !m.running {
		m.running = true
		m.wg.Add(1)
		go m.loop()
	}
	m.mu.Unlock()
	return s, nil
}

// Unsubscribe detaches a session. In-flight read results are no longer
// dispatched to it; the loop drops its room on the next iteration when no
// subscribers remain.
func (m *Multiplexer) Unsubscribe(s *Subscription) {
	s.removed.Store(true)
	m.mu.Lock()
	m.pending = append(m.pending, intent{sub: s})
	m.mu.Unlock()
}

// Close stops the loop and waits for it to finish.
func (m *Multiplexer) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Multiplexer) loop() {
	defer m.wg.Done()
	// active and rooms are loop-owned; subscribe/unsubscribe only touch the
	// pending list.
	active := make(map[string]map[uint64]*Subscription)
	rooms := make(map[string]room.Room)
	for {
		m.mu.Lock()
		for _, in := range m.pending {
			key := in.sub.roomKey
			if in.add && !in.sub.removed.Load() {
				subs := active[key]
				if subs == nil {
					subs = make(map[uint64]*Subscription)
					active[key] = subs
					rooms[key] = in.sub.rm
				}
				subs[in.sub.id] = in.sub
			} else if subs, ok := active[key]; ok {
				delete(subs, in.sub.id)
				if len(subs) == 0 {
					delete(active, key)
					delete(rooms, key)
				}
			}
		}
		m.pending = m.pending[:0]
		if len(active) == 0 || m.ctx.Err() != nil {
			m.running = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		// One round trip for all rooms, at each room's lowest watermark.
		positions := make([]roomlog.Position, 0, len(active))
		for key, subs := range active {
			var min room.Clock
			first := true
			for _, s := range subs {
				if first || s.watermark.Less(min) {
					min = s.watermark
					first = false
				}
			}
			positions = append(positions, roomlog.Position{Room: rooms[key], Since: min})
		}
		batches, err := m.log.ReadMany(m.ctx, positions, true)
		if err != nil {
			if m.ctx.Err() != nil {
				continue
			}
			m.logger.Warn("multiplexer read failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		for _, b := range batches {
			for _, s := range active[b.RoomKey] {
				if s.removed.Load() {
					continue
				}
				var fresh []roomlog.Item
				for _, it := range b.Items {
					if !s.watermark.Less(it.Clock) {
						continue
					}
					if s.filter.Eval(it) {
						fresh = append(fresh, it)
					}
				}
				if s.watermark.Less(b.LastClock) {
					s.watermark = b.LastClock
				}
				if len(fresh) > 0 {
					s.deliver(fresh)
				}
			}
		}
	}
}

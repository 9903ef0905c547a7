package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yjs/yhub/internal/assembler"
	"github.com/yjs/yhub/internal/persistence"
	"github.com/yjs/yhub/internal/room"
	"github.com/yjs/yhub/internal/roomlog"
	"github.com/yjs/yhub/internal/taskqueue"
)

// UpdateCallback runs after a compaction materialized new state, before the
// snapshot is persisted. Errors are logged and do not abort the compaction.
type UpdateCallback func(ctx context.Context, rm room.Room, doc *assembler.MaterializedDoc) error

// Options tune one worker process.
type Options struct {
	// ClaimCount is the number of tasks requested per poll.
	ClaimCount int
	// Concurrency bounds tasks processed in parallel.
	Concurrency int
	// TaskDebounce is the lease duration after which an unacked task may be
	// reclaimed by another worker.
	TaskDebounce time.Duration
	// MinMessageLifetime keeps folded log entries readable for late joiners.
	MinMessageLifetime time.Duration
	// IdlePause is the sleep between polls when no tasks are claimable.
	IdlePause time.Duration
	// UpdateCallback, if set, observes every changed compaction.
	UpdateCallback UpdateCallback
}

func (o *Options) withDefaults() {
	if o.ClaimCount <= 0 {
		o.ClaimCount = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.TaskDebounce <= 0 {
		o.TaskDebounce = 10 * time.Second
	}
	if o.MinMessageLifetime <= 0 {
		o.MinMessageLifetime = time.Minute
	}
	if o.IdlePause <= 0 {
		o.IdlePause = time.Second
	}
}

// Worker claims and processes compaction tasks until its context ends.
type Worker struct {
	queue  *taskqueue.Queue
	log    *roomlog.Log
	asm    *assembler.Assembler
	store  *persistence.Store
	logger *zap.Logger
	opts   Options
	owner  string
}

// New builds a worker with a fresh owner id. The id scopes queue leases to
// this process.
func New(queue *taskqueue.Queue, log *roomlog.Log, asm *assembler.Assembler, store *persistence.Store, logger *zap.Logger, opts Options) *Worker {
	opts.withDefaults()
	return &Worker{
		queue:  queue,
		log:    log,
		asm:    asm,
		store:  store,
		logger: logger,
		opts:   opts,
		owner:  uuid.NewString(),
	}
}

// Owner returns the worker's queue consumer id.
func (w *Worker) Owner() string { return w.owner }

// Run polls the queue until ctx is done. Claim failures back off with
// capped exponential jitter; task failures are logged and retried through
// lease expiry.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.String("owner", w.owner),
		zap.Duration("debounce", w.opts.TaskDebounce),
		zap.Duration("min_message_lifetime", w.opts.MinMessageLifetime))
	var claimFailures int
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped", zap.String("owner", w.owner))
			return err
		}
		n, err := w.RunOnce(ctx)
		if err != nil {
			claimFailures++
			w.logger.Error("claim failed", zap.Int("failures", claimFailures), zap.Error(err))
			if !sleep(ctx, backoff(claimFailures)) {
				return ctx.Err()
			}
			continue
		}
		claimFailures = 0
		if n == 0 {
			if !sleep(ctx, w.opts.IdlePause) {
				return ctx.Err()
			}
		}
	}
}

// RunOnce claims one batch of tasks and processes it. Returns the number of
// tasks claimed; the error covers the claim only, per-task failures are
// logged and left for reclaim.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.queue.Claim(ctx, w.opts.ClaimCount, w.owner, w.opts.TaskDebounce)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			w.process(gctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return len(tasks), nil
}

// process compacts one room. Any failure leaves the task unacked so its
// lease expires and another worker retries.
func (w *Worker) process(ctx context.Context, task taskqueue.Task) {
	lg := w.logger.With(zap.String("task", task.ID), zap.String("room_key", task.RoomKey))
	rm, err := room.DecodeKey(task.RoomKey, w.log.Prefix())
	if err != nil {
		lg.Error("malformed room key on task", zap.Error(err))
		return
	}
	doc, err := w.asm.Assemble(ctx, rm, assembler.All())
	if err != nil {
		lg.Error("assembly failed", zap.Error(err))
		return
	}
	if doc.Changed() {
		if cb := w.opts.UpdateCallback; cb != nil {
			if err := cb(ctx, rm, doc); err != nil {
				lg.Error("update callback failed", zap.Error(err))
			}
		}
		err := w.store.Store(ctx, rm, persistence.Snapshot{
			LastClock:      doc.LastClock,
			GCDoc:          doc.GCDoc,
			NonGCDoc:       doc.NonGCDoc,
			AttributionMap: doc.AttributionMap,
			AttributionIDs: doc.AttributionIDs,
		})
		if err != nil {
			lg.Error("snapshot persist failed", zap.Error(err))
			return
		}
		// Superseded rows stay readable until deleted; a failure here only
		// leaks redundant rows, the new snapshot is already durable.
		if err := w.store.DeleteReferences(ctx, doc.References); err != nil {
			lg.Warn("reference cleanup failed", zap.Error(err))
		}
	} else {
		lg.Debug("compaction no-op", zap.String("clock", doc.LastClock.String()))
	}
	deleted, err := w.log.Trim(ctx, rm, doc.LastClock, w.opts.MinMessageLifetime, task.ID)
	if err != nil {
		lg.Error("trim failed", zap.Error(err))
		return
	}
	lg.Info("room compacted",
		zap.String("clock", doc.LastClock.String()),
		zap.Bool("changed", doc.Changed()),
		zap.Int("trimmed", deleted))
}

// backoff is exp-jitter: doubling base 200ms, capped at 30s, uniformly
// jittered.
func backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 8 {
		failures = 8
	}
	d := 200 * time.Millisecond << (failures - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return time.Duration(rand.Int63n(int64(d))) + d/2
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

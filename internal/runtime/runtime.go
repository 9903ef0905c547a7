package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yjs/yhub/internal/assembler"
	cfgpkg "github.com/yjs/yhub/internal/config"
	"github.com/yjs/yhub/internal/docengine"
	"github.com/yjs/yhub/internal/mux"
	"github.com/yjs/yhub/internal/persistence"
	"github.com/yjs/yhub/internal/persistence/fsblob"
	"github.com/yjs/yhub/internal/roomlog"
	pebblestore "github.com/yjs/yhub/internal/storage/pebble"
	"github.com/yjs/yhub/internal/taskqueue"
	"github.com/yjs/yhub/internal/worker"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger *zap.Logger
	// Engine is the document engine. Nil selects the built-in reference
	// engine.
	Engine docengine.Engine
	// Plugins extend the persistence store beyond the config-driven
	// filesystem plugin.
	Plugins []persistence.Plugin
}

// Runtime owns the shared clients of one server or worker process.
type Runtime struct {
	cfg    cfgpkg.Config
	logger *zap.Logger
	engine docengine.Engine

	db    *pebblestore.DB
	sqlDB *sql.DB
	gdb   *gorm.DB

	queue *taskqueue.Queue
	log   *roomlog.Log
	store *persistence.Store
	asm   *assembler.Assembler
	mux   *mux.Multiplexer
}

// Open initializes storage and wires all services.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.Prefix == "" {
		cfg.Prefix = "yhub"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "snapshots.db")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := opts.Engine
	if engine == nil {
		engine = docengine.NewUnion()
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.DataDir, "log"),
		Fsync:         fsyncMode(cfg.Fsync),
		FsyncInterval: cfg.FsyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	plugins := opts.Plugins
	if cfg.BlobDir != "" {
		plugins = append(plugins, fsblob.New(afero.NewOsFs(), cfg.BlobDir, cfg.BlobMinSize))
	}
	store, err := persistence.Open(gdb, plugins, logger)
	if err != nil {
		_ = sqlDB.Close()
		_ = db.Close()
		return nil, err
	}

	queue, err := taskqueue.Open(db, cfg.Prefix)
	if err != nil {
		_ = sqlDB.Close()
		_ = db.Close()
		return nil, err
	}
	log := roomlog.Open(db, queue, cfg.Prefix)

	rt := &Runtime{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		db:     db,
		sqlDB:  sqlDB,
		gdb:    gdb,
		queue:  queue,
		log:    log,
		store:  store,
		asm:    assembler.New(log, store, engine),
		mux:    mux.New(log, logger),
	}
	logger.Info("runtime initialized",
		zap.String("data_dir", cfg.DataDir),
		zap.String("database", cfg.DatabasePath),
		zap.String("prefix", cfg.Prefix))
	return rt, nil
}

// Close stops the multiplexer and releases storage connections.
func (r *Runtime) Close() error {
	r.mux.Close()
	var errs []error
	if err := r.sqlDB.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckHealth verifies both stores answer.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return r.sqlDB.PingContext(ctx)
}

// NewWorker builds a compaction worker bound to this runtime's stores.
func (r *Runtime) NewWorker(cb worker.UpdateCallback) *worker.Worker {
	return worker.New(r.queue, r.log, r.asm, r.store, r.logger, worker.Options{
		ClaimCount:         r.cfg.ClaimCount,
		Concurrency:        r.cfg.TaskConcurrency,
		TaskDebounce:       r.cfg.TaskDebounce,
		MinMessageLifetime: r.cfg.MinMessageLifetime,
		IdlePause:          r.cfg.IdlePause,
		UpdateCallback:     cb,
	})
}

// Log returns the shared room log.
func (r *Runtime) Log() *roomlog.Log { return r.log }

// Queue returns the shared compaction task queue.
func (r *Runtime) Queue() *taskqueue.Queue { return r.queue }

// Store returns the snapshot persistence store.
func (r *Runtime) Store() *persistence.Store { return r.store }

// Assembler returns the document assembler.
func (r *Runtime) Assembler() *assembler.Assembler { return r.asm }

// Mux returns the subscription multiplexer.
func (r *Runtime) Mux() *mux.Multiplexer { return r.mux }

// Config returns the effective configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "never":
		return pebblestore.FsyncModeNever
	case "interval":
		return pebblestore.FsyncModeInterval
	default:
		return pebblestore.FsyncModeAlways
	}
}

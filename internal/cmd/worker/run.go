package workerrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	cfgpkg "github.com/yjs/yhub/internal/config"
	"github.com/yjs/yhub/internal/runtime"
	"github.com/yjs/yhub/internal/worker"
)

// Run starts a compaction worker and blocks until ctx is cancelled or a
// termination signal arrives.
func Run(ctx context.Context, cfg cfgpkg.Config, logger *zap.Logger, cb worker.UpdateCallback) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	err = rt.NewWorker(cb).Run(sctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

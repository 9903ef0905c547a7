// Package workerrun exposes a shared Run entrypoint used by the CLI to
// start a compaction worker process, handling lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := config.Load("")
//	logger, _ := logging.NewLogger(cfg.LogLevel)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = workerrun.Run(ctx, cfg, logger, nil)
package workerrun

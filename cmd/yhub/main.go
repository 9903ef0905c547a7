package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yjs/yhub/internal/assembler"
	workerrun "github.com/yjs/yhub/internal/cmd/worker"
	cfgpkg "github.com/yjs/yhub/internal/config"
	"github.com/yjs/yhub/internal/logging"
	"github.com/yjs/yhub/internal/room"
	"github.com/yjs/yhub/internal/roomlog"
	"github.com/yjs/yhub/internal/runtime"
)

func main() {
	var (
		configPath string
		dataDir    string
		logLevel   string
		prefix     string
	)

	rootCmd := &cobra.Command{
		Use:   "yhub",
		Short: "yhub document distribution and compaction engine",
		Long:  "yhub durably distributes collaborative document updates and compacts per-room logs into persisted snapshots.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (defaults to an OS-specific location)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "", "Key prefix shared by all processes of a deployment")

	loadConfig := func() (cfgpkg.Config, *zap.Logger, error) {
		cfg, err := cfgpkg.Load(configPath)
		if err != nil {
			return cfgpkg.Config{}, nil, err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if prefix != "" {
			cfg.Prefix = prefix
		}
		logger, err := logging.NewLogger(cfg.LogLevel)
		if err != nil {
			return cfgpkg.Config{}, nil, err
		}
		return cfg, logger, nil
	}

	roomFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("org", "", "Organization")
		cmd.Flags().String("docid", "/", "Document id")
		cmd.Flags().String("branch", "main", "Branch")
		_ = cmd.MarkFlagRequired("org")
	}
	roomFromFlags := func(cmd *cobra.Command) room.Room {
		org, _ := cmd.Flags().GetString("org")
		docid, _ := cmd.Flags().GetString("docid")
		branch, _ := cmd.Flags().GetString("branch")
		return room.Room{Org: org, DocID: docid, Branch: branch}
	}

	// worker start
	workerCmd := &cobra.Command{Use: "worker", Short: "Compaction worker commands"}
	workerStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a compaction worker",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return workerrun.Run(cmd.Context(), cfg, logger, nil)
		},
	}
	workerCmd.AddCommand(workerStartCmd)
	rootCmd.AddCommand(workerCmd)

	// doc commands
	docCmd := &cobra.Command{Use: "doc", Short: "Document operations"}

	docGetCmd := &cobra.Command{
		Use:   "get",
		Short: "Assemble and print the materialized document state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()
			doc, err := rt.Assembler().Assemble(cmd.Context(), roomFromFlags(cmd), assembler.All())
			if err != nil {
				return err
			}
			out := map[string]any{
				"lastClock":          doc.LastClock.String(),
				"lastPersistedClock": doc.LastPersistedClock.String(),
				"gcDoc":              string(doc.GCDoc),
				"nongcDoc":           string(doc.NonGCDoc),
				"attributionMap":     string(doc.AttributionMap),
				"attributionIds":     string(doc.AttributionIDs),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	roomFlags(docGetCmd)
	docCmd.AddCommand(docGetCmd)

	docAppendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append an update entry to a room log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			update, _ := cmd.Flags().GetString("update")
			attribution, _ := cmd.Flags().GetString("attribution")
			awareness, _ := cmd.Flags().GetBool("awareness")
			rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()
			e := roomlog.Entry{Kind: roomlog.KindUpdate, Update: []byte(update)}
			if awareness {
				e.Kind = roomlog.KindAwareness
			} else if attribution != "" {
				e.Attribution = []byte(attribution)
			}
			c, err := rt.Log().Append(cmd.Context(), roomFromFlags(cmd), e)
			if err != nil {
				return err
			}
			fmt.Println(c.String())
			return nil
		},
	}
	roomFlags(docAppendCmd)
	docAppendCmd.Flags().String("update", "", "Update payload")
	docAppendCmd.Flags().String("attribution", "", "Attribution-map delta")
	docAppendCmd.Flags().Bool("awareness", false, "Append an awareness entry instead of an update")
	docCmd.AddCommand(docAppendCmd)

	docWatchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to a room and print entries as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			filter, _ := cmd.Flags().GetString("filter")
			rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()
			sub, err := rt.Mux().Subscribe(roomFromFlags(cmd), room.Clock{}, filter, func(items []roomlog.Item) {
				for _, it := range items {
					fmt.Printf("%s %s %q\n", it.Clock, it.Entry.Kind, it.Entry.Update)
				}
			})
			if err != nil {
				return err
			}
			defer rt.Mux().Unsubscribe(sub)
			<-cmd.Context().Done()
			return nil
		},
	}
	roomFlags(docWatchCmd)
	docWatchCmd.Flags().String("filter", "", "CEL filter over kind, size, ts_ms, now_ms")
	docCmd.AddCommand(docWatchCmd)
	rootCmd.AddCommand(docCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

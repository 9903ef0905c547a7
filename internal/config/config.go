package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration shared by server and worker roles.
type Config struct {
	// Prefix namespaces every room and queue key in the shared store.
	Prefix string `mapstructure:"prefix"`
	// DataDir holds the embedded log store. Empty picks an OS default.
	DataDir string `mapstructure:"data_dir"`
	// DatabasePath is the snapshot database file. Empty derives it from
	// DataDir.
	DatabasePath string `mapstructure:"database_path"`
	// Fsync is always, interval or never.
	Fsync         string        `mapstructure:"fsync"`
	FsyncInterval time.Duration `mapstructure:"fsync_interval"`
	LogLevel      string        `mapstructure:"log_level"`

	// TaskDebounce is how long a claimed compaction task stays owned before
	// any worker may reclaim it.
	TaskDebounce time.Duration `mapstructure:"task_debounce"`
	// MinMessageLifetime keeps folded log entries readable after compaction.
	MinMessageLifetime time.Duration `mapstructure:"min_message_lifetime"`
	// ClaimCount is the number of tasks a worker requests per poll.
	ClaimCount int `mapstructure:"claim_count"`
	// TaskConcurrency bounds tasks processed in parallel per worker.
	TaskConcurrency int `mapstructure:"task_concurrency"`
	// IdlePause is the worker sleep between empty polls.
	IdlePause time.Duration `mapstructure:"idle_pause"`

	// BlobDir enables the filesystem asset plugin when non-empty.
	BlobDir string `mapstructure:"blob_dir"`
	// BlobMinSize is the inline-vs-offload threshold in bytes.
	BlobMinSize int `mapstructure:"blob_min_size"`
}

// Default returns built-in defaults.
func Default() Config {
	cfg, _ := Load("")
	return cfg
}

// Load builds the configuration from defaults, an optional config file and
// YHUB_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("prefix", "yhub")
	v.SetDefault("data_dir", "")
	v.SetDefault("database_path", "")
	v.SetDefault("fsync", "interval")
	v.SetDefault("fsync_interval", 5*time.Millisecond)
	v.SetDefault("log_level", "info")
	v.SetDefault("task_debounce", 10*time.Second)
	v.SetDefault("min_message_lifetime", time.Minute)
	v.SetDefault("claim_count", 5)
	v.SetDefault("task_concurrency", 4)
	v.SetDefault("idle_pause", time.Second)
	v.SetDefault("blob_dir", "")
	v.SetDefault("blob_min_size", 64<<10)

	v.SetEnvPrefix("YHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	switch cfg.Fsync {
	case "always", "interval", "never":
	default:
		return Config{}, fmt.Errorf("invalid fsync mode %q; use always|interval|never", cfg.Fsync)
	}
	return cfg, nil
}

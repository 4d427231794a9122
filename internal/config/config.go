// Package config loads the runtime's own bootstrap configuration — as
// distinct from the bot specification document the runtime interprets,
// which arrives pre-validated and is out of scope here. Grounded on the
// teacher's internal/config/config.go: rakunlabs/chu with cfg struct tags
// and default: fallbacks, environment-prefixed loading, and a structured
// logger set up as a side effect of Load.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = "botrun"

// Config is the runtime's own bootstrap configuration: where its
// persisted state lives, how its caches and worker pools are sized, and
// which pipes/metrics/locale surfaces are enabled. The bot specification
// document itself (commands, flows, events, pipes config per connector)
// is loaded separately and is not part of this struct.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// SpecPath points at the validated specification document this
	// runtime interprets. Loading/validating it is out of scope for the
	// core; the runtime only needs to know where to find it.
	SpecPath string `cfg:"spec_path" default:"./bot.yaml"`

	State     State       `cfg:"state"`
	Scheduler Scheduler   `cfg:"scheduler"`
	Pipes     Pipes       `cfg:"pipes"`
	Metrics   Metrics     `cfg:"metrics"`
	Locale    Locale      `cfg:"locale"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// State configures C3's storage adapter and write-through cache.
type State struct {
	Postgres *StatePostgres `cfg:"postgres"`
	SQLite   *StateSQLite   `cfg:"sqlite"`

	// CacheTTL is the default per-entry cache lifetime. Falls back to
	// the state package's own DefaultCacheTTL when zero.
	CacheTTL time.Duration `cfg:"cache_ttl" default:"60s"`

	// CacheSize bounds the cache's resident entry count before
	// insertion-order eviction kicks in.
	CacheSize int `cfg:"cache_size" default:"10000"`

	// EncryptionKey, if set, enables AES-256-GCM encryption at rest for
	// table columns declared encrypted in the state schema.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StatePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StateSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Scheduler configures worker sizing for the flow executor's batch
// control action, plus the cron scheduler's default timezone.
type Scheduler struct {
	// DefaultTimezone is used for cron jobs with no CRON_TZ= prefix.
	DefaultTimezone string `cfg:"default_timezone" default:"UTC"`

	// BatchConcurrency is the default worker pool size for batch{}
	// actions that don't set their own concurrency field.
	BatchConcurrency int `cfg:"batch_concurrency" default:"8"`
}

// Pipes configures the shared reconnect supervisor's defaults, applied to
// every pipe.
type Pipes struct {
	MaxAttempts  int           `cfg:"max_attempts" default:"10"`
	BackoffDelay time.Duration `cfg:"backoff_delay" default:"5s"`
}

// Metrics toggles and configures the Prometheus text exposition collector.
type Metrics struct {
	Enabled bool   `cfg:"enabled" default:"true"`
	Path    string `cfg:"path" default:"/metrics"`
}

// Locale configures the default/fallback locale for message lookups.
type Locale struct {
	Default string `cfg:"default" default:"en-US"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("BOTRUN_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}

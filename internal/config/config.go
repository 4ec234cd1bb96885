// Package config defines engine configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) to build a Config with defaults, Load(ctx) to layer
//   file and environment sources on top.
// - External errors are wrapped via this package's sentinel errors.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// SweepIntervalMinutes sets the periodic sweep cadence.
	SweepIntervalMinutes int `koanf:"sweep_interval_minutes"`

	// TriggerQueueSize bounds the in-memory recompute trigger queue.
	TriggerQueueSize int `koanf:"trigger_queue_size"`

	// TriggerWorkerCount sets the number of recompute workers.
	TriggerWorkerCount int `koanf:"trigger_worker_count"`

	// FreshnessWindowDays is the age at which rollups are trusted for
	// day-level queries.
	FreshnessWindowDays int `koanf:"freshness_window_days"`

	// StableCacheTTLMinutes applies to queries over windows entirely
	// older than the freshness window.
	StableCacheTTLMinutes int `koanf:"stable_cache_ttl_minutes"`

	// RecentCacheTTLMinutes applies to raw-backed or recent-window queries.
	RecentCacheTTLMinutes int `koanf:"recent_cache_ttl_minutes"`

	// BackfillBatchSize bounds per-iteration load during backfills.
	BackfillBatchSize int `koanf:"backfill_batch_size"`

	// UseRollups gates rollup reads; false forces every query to raw events.
	UseRollups bool `koanf:"use_rollups"`

	// ShadowReads enables divergence logging between rollup and raw paths.
	ShadowReads bool `koanf:"shadow_reads"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9090",
		DatabaseURL:           "",
		SweepIntervalMinutes:  15,
		TriggerQueueSize:      10_000,
		TriggerWorkerCount:    runtime.NumCPU(),
		FreshnessWindowDays:   7,
		StableCacheTTLMinutes: 30,
		RecentCacheTTLMinutes: 5,
		BackfillBatchSize:     100,
		UseRollups:            true,
		ShadowReads:           false,
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if CADENCE_CONFIG is set
//  3. env (prefix CADENCE_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("CADENCE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: CADENCE_ADDR, CADENCE_SWEEP_INTERVAL_MINUTES, ...
	// Underscores are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("CADENCE_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "cadence_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.SweepIntervalMinutes <= 0:
		return fmt.Errorf("%w: sweep_interval_minutes must be positive", ErrInvalidConfig)
	case c.TriggerQueueSize <= 0:
		return fmt.Errorf("%w: trigger_queue_size must be positive", ErrInvalidConfig)
	case c.TriggerWorkerCount <= 0:
		return fmt.Errorf("%w: trigger_worker_count must be positive", ErrInvalidConfig)
	case c.FreshnessWindowDays <= 0:
		return fmt.Errorf("%w: freshness_window_days must be positive", ErrInvalidConfig)
	case c.StableCacheTTLMinutes <= 0 || c.RecentCacheTTLMinutes <= 0:
		return fmt.Errorf("%w: cache TTLs must be positive", ErrInvalidConfig)
	case c.BackfillBatchSize <= 0:
		return fmt.Errorf("%w: backfill_batch_size must be positive", ErrInvalidConfig)
	}
	return nil
}

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func clearConfigEnvVars() {
	for _, key := range []string{
		"CADENCE_CONFIG",
		"CADENCE_ADDR",
		"CADENCE_LOG_LEVEL",
		"CADENCE_DATABASE_URL",
		"CADENCE_SWEEP_INTERVAL_MINUTES",
		"CADENCE_TRIGGER_QUEUE_SIZE",
		"CADENCE_TRIGGER_WORKER_COUNT",
		"CADENCE_FRESHNESS_WINDOW_DAYS",
		"CADENCE_STABLE_CACHE_TTL_MINUTES",
		"CADENCE_RECENT_CACHE_TTL_MINUTES",
		"CADENCE_BACKFILL_BATCH_SIZE",
		"CADENCE_USE_ROLLUPS",
		"CADENCE_SHADOW_READS",
	} {
		_ = os.Unsetenv(key)
	}
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 15)
				convey.So(cfg.UseRollups, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars()
			_ = os.Setenv("CADENCE_ADDR", ":8080")
			_ = os.Setenv("CADENCE_SWEEP_INTERVAL_MINUTES", "5")
			_ = os.Setenv("CADENCE_TRIGGER_QUEUE_SIZE", "512")
			_ = os.Setenv("CADENCE_USE_ROLLUPS", "false")
			_ = os.Setenv("CADENCE_SHADOW_READS", "true")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 5)
				convey.So(cfg.TriggerQueueSize, convey.ShouldEqual, 512)
				convey.So(cfg.UseRollups, convey.ShouldBeFalse)
				convey.So(cfg.ShadowReads, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			clearConfigEnvVars()
			dir := t.TempDir()
			path := filepath.Join(dir, "cadence.yaml")
			body := "addr: \":7070\"\nsweep_interval_minutes: 30\nrecent_cache_ttl_minutes: 2\n"
			convey.So(os.WriteFile(path, []byte(body), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("CADENCE_CONFIG", path)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.SweepIntervalMinutes, convey.ShouldEqual, 30)
				convey.So(cfg.RecentCacheTTLMinutes, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When configuration is invalid", func() {
			clearConfigEnvVars()
			_ = os.Setenv("CADENCE_SWEEP_INTERVAL_MINUTES", "0")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then loading should fail fast", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

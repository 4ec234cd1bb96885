package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cadencehq/cadence/internal/adapters/http/api"
	"github.com/cadencehq/cadence/internal/adapters/repository"
	app "github.com/cadencehq/cadence/internal/app"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/pkg/logger"
	"github.com/cadencehq/cadence/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics;
	// we collect our own system metrics instead.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithQueueSize(cfg.TriggerQueueSize),
		app.WithWorkerCount(cfg.TriggerWorkerCount),
		app.WithSweepInterval(time.Duration(cfg.SweepIntervalMinutes) * time.Minute),
		app.WithFreshnessWindow(time.Duration(cfg.FreshnessWindowDays) * 24 * time.Hour),
		app.WithCacheTTLs(
			time.Duration(cfg.StableCacheTTLMinutes)*time.Minute,
			time.Duration(cfg.RecentCacheTTLMinutes)*time.Minute,
		),
		app.WithBackfillBatchSize(cfg.BackfillBatchSize),
		app.WithUseRollups(cfg.UseRollups),
		app.WithShadowReads(cfg.ShadowReads),
	}

	if cfg.DatabaseURL != "" {
		gdb, err := repository.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Error(ctx, "database connection failed", logger.Error(err))
			return
		}
		if err := repository.AutoMigrateAndIndexes(gdb); err != nil {
			log.Error(ctx, "database migration failed", logger.Error(err))
			return
		}
		opts = append(opts, app.WithStore(repository.NewSQLStore(gdb)))
		log.Info(ctx, "using postgres store")
	} else {
		log.Info(ctx, "no database_url set; using in-memory store")
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop(context.Background())

	go startSystemMetricsUpdater(ctx)

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
}

// startSystemMetricsUpdater periodically refreshes memory and goroutine
// gauges.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

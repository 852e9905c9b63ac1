// Package main is the entrypoint for the callcoach API server and analysis worker pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/callcoach/internal/ai/provider"
	"github.com/kiranshivaraju/callcoach/internal/api"
	"github.com/kiranshivaraju/callcoach/internal/api/handler"
	mw "github.com/kiranshivaraju/callcoach/internal/api/middleware"
	"github.com/kiranshivaraju/callcoach/internal/api/response"
	"github.com/kiranshivaraju/callcoach/internal/cache"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/internal/metrics"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/scheduler"
	"github.com/kiranshivaraju/callcoach/internal/skills"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env, "db_driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the store (runs migrations for postgres)
	st, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeStore()
	logger.Info("database connected")

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 4. Create AI provider
	aiProvider, err := provider.New(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	logger.Info("AI provider initialized", "provider", aiProvider.Name())

	// 5. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 6. Worker pool. Local wakes drain this process; Redis wakes reach every replica.
	processor := queue.NewProcessor(queue.ProcessorConfig{
		Store:            st,
		Provider:         aiProvider,
		Cache:            redisCache,
		Gate:             skills.NewGate(st, skills.NewStoreAggregator(st), logger),
		Metrics:          m,
		Logger:           logger,
		InferenceTimeout: cfg.AI.InferenceTimeout,
	})
	pool := queue.NewPool(st, processor, queue.PoolConfig{
		WorkerCount:   cfg.Worker.Count,
		WorkerID:      workerID(cfg.Worker.ID),
		PollInterval:  cfg.Worker.PollInterval,
		LeaseDuration: cfg.Worker.LeaseDuration,
	}, logger)
	pool.Start(ctx)

	go func() {
		if err := queue.ListenForWakes(ctx, redisCache, pool); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("wake subscription stopped", "error", err)
		}
	}()

	svc := queue.NewService(st, redisCache, queue.NewRedisWaker(redisCache, pool, logger), m, logger)

	// 7. Maintenance schedule
	if cfg.Maintenance.Enabled {
		maint, err := scheduler.New(svc, cfg.Maintenance, m, logger)
		if err != nil {
			return fmt.Errorf("create maintenance scheduler: %w", err)
		}
		maint.Start(ctx)
		defer maint.Stop()
	}

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Logger:    logger,
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler:  healthHandler(st, redisCache),
		MetricsHandler: m.Handler(),

		EnqueueAnalysis:   handler.NewEnqueueHandler(svc, logger),
		GetAnalysisStatus: handler.NewStatusHandler(svc, logger),
		RetryJobs:         handler.NewRetryHandler(svc, logger),
		CleanupJobs:       handler.NewCleanupHandler(svc, logger),
		ReapJobs:          handler.NewReapHandler(svc, logger),
		ListJobs:          handler.NewListJobsHandler(st, logger),
	}

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		pool.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight jobs finish their write path; anything left processing is reclaimed by the reaper.
	pool.Wait()

	logger.Info("server stopped gracefully")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// workerID identifies this process in locked_by. Defaults to hostname-pid.
func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

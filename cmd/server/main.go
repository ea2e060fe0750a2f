// Package main is the entrypoint for the BrandScope API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandscope/brandscope/internal/api"
	"github.com/brandscope/brandscope/internal/api/handler"
	mw "github.com/brandscope/brandscope/internal/api/middleware"
	"github.com/brandscope/brandscope/internal/batch"
	"github.com/brandscope/brandscope/internal/cache"
	"github.com/brandscope/brandscope/internal/config"
	"github.com/brandscope/brandscope/internal/provider"
	"github.com/brandscope/brandscope/internal/sched"
	"github.com/brandscope/brandscope/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "scheduler_enabled", cfg.Scheduler.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the provider registry from configured vendors
	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		return fmt.Errorf("create provider registry: %w", err)
	}
	slog.Info("providers initialized", "providers", registry.Names())

	// 6. Create store and the job engine
	pgStore := store.NewPostgresStore(pool)

	fanout := batch.NewFanout(pgStore, redisCache, registry)
	executor := batch.NewExecutor(pgStore, redisCache, registry, cfg.Batch)
	reconciler := batch.NewReconciler(pgStore, redisCache, executor, cfg.Batch)
	driver := batch.NewDriver(executor, cfg.Batch)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:       auth,
		RateLimit:  rateLimit,
		CronSecret: cfg.Scheduler.CronSecret,

		HealthHandler:      handler.NewHealthHandler(pgStore, redisCache),
		CreateJobHandler:   handler.NewCreateJobHandler(fanout),
		RunJobHandler:      handler.NewRunJobHandler(pgStore, executor),
		GetJobHandler:      handler.NewGetJobHandler(pgStore, redisCache),
		CancelJobHandler:   handler.NewCancelJobHandler(pgStore),
		DiagnosticsHandler: handler.NewJobDiagnosticsHandler(pgStore),
		ReconcileHandler:   handler.NewReconcileHandler(reconciler),
		ScanHandler:        handler.NewScanHandler(pgStore, fanout),
	}

	router := api.NewRouter(deps)

	// 8. Start the in-process scheduler when enabled
	var scheduler *sched.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = sched.New(pgStore, fanout, driver, reconciler, cfg.Scheduler)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			slog.Warn("scheduler did not stop cleanly", "error", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

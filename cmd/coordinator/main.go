// Package main is the entrypoint for the Convoy coordinator.
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

	"github.com/rahulmehra-dev/convoy/internal/api"
	"github.com/rahulmehra-dev/convoy/internal/api/handler"
	mw "github.com/rahulmehra-dev/convoy/internal/api/middleware"
	"github.com/rahulmehra-dev/convoy/internal/api/response"
	"github.com/rahulmehra-dev/convoy/internal/cache"
	"github.com/rahulmehra-dev/convoy/internal/cluster"
	"github.com/rahulmehra-dev/convoy/internal/config"
	"github.com/rahulmehra-dev/convoy/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("coordinator failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	slog.Info("config loaded", "port", cfg.Coordinator.Port, "env", cfg.Coordinator.Env)

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

	// 5. Create store and coordinator core
	pgStore := store.NewPostgresStore(pool)
	coord := cluster.NewCoordinator(logger, cfg.Coordinator, pgStore, redisCache)

	// 6. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Coordinator.RequestsPerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		SubmitHandler:          handler.NewSubmitHandler(coord),
		StatusHandler:          handler.NewStatusHandler(coord, redisCache, pgStore),
		ListSubmissionsHandler: handler.NewListSubmissionsHandler(coord, pgStore),
		CancelHandler:          handler.NewCancelHandler(coord),

		RegisterWorkerHandler:   handler.NewRegisterWorkerHandler(coord),
		HeartbeatHandler:        handler.NewHeartbeatHandler(coord),
		DeregisterWorkerHandler: handler.NewDeregisterWorkerHandler(coord),
		PollTaskHandler:         handler.NewPollTaskHandler(coord),
		AckTaskHandler:          handler.NewAckTaskHandler(coord),
		ReportResultHandler:     handler.NewReportResultHandler(coord),

		SnapshotHandler: handler.NewSnapshotHandler(coord),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start the scheduling loop
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = coord.Run(ctx)
	}()

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Coordinator.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("coordinator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-schedDone

	slog.Info("coordinator stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
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

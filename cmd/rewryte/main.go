package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	rwhttp "github.com/rewryte/rewryte/internal/adapter/http"
	rwnats "github.com/rewryte/rewryte/internal/adapter/nats"
	rwotel "github.com/rewryte/rewryte/internal/adapter/otel"
	"github.com/rewryte/rewryte/internal/adapter/postgres"
	"github.com/rewryte/rewryte/internal/adapter/workflow"
	"github.com/rewryte/rewryte/internal/config"
	"github.com/rewryte/rewryte/internal/logger"
	"github.com/rewryte/rewryte/internal/middleware"
	"github.com/rewryte/rewryte/internal/resilience"
	"github.com/rewryte/rewryte/internal/service"
)

const serviceName = "rewryte"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	defer closeLogger.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"dispatch_max_attempts", cfg.Dispatch.MaxAttempts,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownMeter, err := rwotel.InitMeter(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	metrics, err := rwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := rwnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	// --- Workflow engine client ---
	engine, err := workflow.NewClient(cfg.Workflow)
	if err != nil {
		return fmt.Errorf("workflow client: %w", err)
	}
	if cfg.Breaker.MaxFailures > 0 {
		engine.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	audit := postgres.NewAuditStore(pool)
	lifecycleSvc := service.NewLifecycleService(store, audit, metrics)
	dispatchSvc := service.NewDispatchService(lifecycleSvc, queue, engine, cfg.Dispatch, metrics)

	cancelDispatch, err := dispatchSvc.Start(ctx)
	if err != nil {
		return fmt.Errorf("dispatch subscriber: %w", err)
	}
	defer cancelDispatch()

	// --- HTTP ---
	handlers := &rwhttp.Handlers{
		Lifecycle: lifecycleSvc,
		Dispatch:  dispatchSvc,
		Queue:     queue,
		Engine:    engine,
		DB:        pool,
	}

	r := chi.NewRouter()

	r.Use(rwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rwhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(rwotel.HTTPMiddleware(serviceName))

	rwhttp.MountRoutes(r, handlers, cfg.Workflow.CallbackSecret)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

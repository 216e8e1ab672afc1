package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/garnizeh/fieldops/api"
	migrations "github.com/garnizeh/fieldops/db"
	"github.com/garnizeh/fieldops/internal/checklist"
	"github.com/garnizeh/fieldops/internal/config"
	"github.com/garnizeh/fieldops/internal/db"
	"github.com/garnizeh/fieldops/internal/dispatch"
	"github.com/garnizeh/fieldops/internal/evidence"
	"github.com/garnizeh/fieldops/internal/jobs"
	"github.com/garnizeh/fieldops/internal/location"
	"github.com/garnizeh/fieldops/internal/refresh"
	"github.com/garnizeh/fieldops/internal/repository/sqlite"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/internal/telemetry"
	"github.com/garnizeh/fieldops/internal/timetrack"
	"github.com/garnizeh/fieldops/internal/workflow"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const (
	purgeTask     = "outbox-purge"
	purgeInterval = time.Hour
	keepDoneJobs  = 24 * time.Hour
)

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	api.SetLogger(logger)
	fieldops.SetLogger(logger)

	logger.Info("starting fieldops agent", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.Telemetry, logger)

	// Local store
	database, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, database, migrations.Migrations); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}
	repo := sqlite.New(database, logger)
	queue := jobs.NewRepository(database)
	if n, err := queue.ResetRunning(ctx); err != nil {
		logger.Warn("reset interrupted jobs", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("requeued interrupted jobs", slog.Int64("count", n))
	}

	// Session and backend client
	sessions := session.NewManager(logger)
	client, err := fieldops.NewDefaultClient(cfg.Backend, sessions)
	if err != nil {
		log.Fatalf("Failed to create field-operations client: %v", err)
	}

	tracker := location.NewTracker(location.DefaultMaxAge)
	broker := workflow.NewBroker()
	controller := workflow.NewController(client, sessions, tracker, broker, workflow.Options{
		StrictChecklist: cfg.Workflow.StrictChecklist,
	}, logger)
	dispatcher := dispatch.New(client, sessions, logger)

	// Outbox
	var objects evidence.Store
	if cfg.Storage.Endpoint != "" {
		store, err := evidence.NewMinIOStore(cfg.Storage, logger)
		if err != nil {
			log.Fatalf("Failed to create evidence store: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("evidence bucket check failed", slog.String("error", err.Error()))
		}
		objects = store
	}
	syncer := jobs.NewSyncer(client, repo, objects, logger)
	pool := jobs.NewWorkerPool(queue, syncer.Handlers(), logger, jobs.PoolOptions{
		Workers:     cfg.Sync.Workers,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})

	checks := checklist.New(sessions, repo, pool, logger)
	timers := timetrack.New(repo, pool, sessions, logger)

	// Periodic tasks
	filter := fieldops.WorkOrderFilter{TechnicianID: cfg.Refresh.TechnicianID}
	for _, s := range cfg.Refresh.Statuses {
		filter.Statuses = append(filter.Statuses, models.Status(s))
	}
	refresher := refresh.NewRefresher(client, sessions, checks, filter, logger)
	scheduler := refresh.NewScheduler(logger)
	if err := scheduler.Add(refresh.TaskName, cfg.Refresh.Interval, func(ctx context.Context) error {
		if _, err := sessions.Current(); err != nil {
			return nil
		}
		return refresher.Refresh(ctx)
	}); err != nil {
		log.Fatalf("Failed to schedule refresh: %v", err)
	}
	if err := scheduler.Add(purgeTask, purgeInterval, func(ctx context.Context) error {
		n, err := queue.PurgeDone(ctx, time.Now().Add(-keepDoneJobs))
		if err == nil && n > 0 {
			logger.Info("purged finished jobs", slog.Int64("count", n))
		}
		return err
	}); err != nil {
		log.Fatalf("Failed to schedule purge: %v", err)
	}

	sessions.OnEnd(tracker.Reset)
	onSessionStart := func() {
		scheduler.Trigger(refresh.TaskName)
		if active, err := timers.Restore(ctx); err != nil {
			logger.Warn("restore time tracking", slog.String("error", err.Error()))
		} else if active != nil {
			logger.Info("timer still running", slog.String("entry_id", active.ID), slog.String("work_order_id", active.WorkOrderID))
		}
	}

	pool.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := api.SetupRoutes(cfg, version, buildTime, api.Services{
		Sessions:       sessions,
		Cache:          sessions,
		Workflow:       controller,
		Checklist:      checks,
		Dispatch:       dispatcher,
		Timers:         timers,
		Location:       tracker,
		Events:         broker,
		OnSessionStart: onSessionStart,
		OnReset:        func() { scheduler.Trigger(refresh.TaskName) },
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("local API listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	scheduler.Stop()
	pool.Stop()
	if err := client.Close(); err != nil {
		logger.Warn("close client", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("flush traces", slog.String("error", err.Error()))
	}
	if err := database.Close(); err != nil {
		logger.Error("close DB", slog.String("error", err.Error()))
	}

	logger.Info("agent exited")
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/internal/agents"
	"github.com/loomworks/loom/internal/cancel"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/routines"
	"github.com/loomworks/loom/internal/runner"
	"github.com/loomworks/loom/internal/sessions"
	"github.com/loomworks/loom/pkg/models"
)

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	diags := observability.NewDiagnostics(0)

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.close()

	toolRegistry := agent.NewRegistry()
	cancels := cancel.NewMemoryRegistry(0)
	broker := events.NewBroker()
	queue := jobs.NewMemoryQueue()

	jobRunner := runner.New(runner.Options{
		Jobs:        stores.jobs,
		Events:      stores.events,
		Broker:      broker,
		Sessions:    stores.sessions,
		Agents:      stores.agents,
		Registry:    toolRegistry,
		Provider:    agent.NewEchoProvider(),
		Cancels:     cancels,
		Logger:      logger,
		Metrics:     metrics,
		Diagnostics: diags,
		Config: runner.Config{
			MaxToolRounds:    cfg.Engine.MaxToolRounds,
			ContextCharLimit: cfg.Engine.ContextCharLimit,
		},
	})

	pools := []*runner.Pool{
		runner.NewPool(jobRunner, queue, runner.PoolConfig{
			Kind:        models.JobKindInteractive,
			Workers:     cfg.Engine.InteractiveWorkers,
			MaxAttempts: cfg.Engine.MaxAttempts,
		}),
		runner.NewPool(jobRunner, queue, runner.PoolConfig{
			Kind:        models.JobKindBatch,
			Workers:     cfg.Engine.BatchWorkers,
			MaxAttempts: cfg.Engine.MaxAttempts,
		}),
	}
	for _, pool := range pools {
		pool.Start(ctx)
	}

	if err := routines.EnsureDefaults(ctx, stores.routines, stores.agents); err != nil {
		logger.Warn("default routine provisioning failed", "error", err)
	}
	actions := routines.NewActions(stores.agents, stores.documents,
		stores.jobs, queue, diags, logger)
	scheduler := routines.NewScheduler(routines.SchedulerOptions{
		Store:        stores.routines,
		Logs:         stores.routineLogs,
		Locks:        stores.locks,
		Actions:      actions,
		Logger:       logger,
		Metrics:      metrics,
		Diagnostics:  diags,
		TickInterval: cfg.Routines.TickInterval,
	})
	go scheduler.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	logger.Info("engine started",
		"interactive_workers", cfg.Engine.InteractiveWorkers,
		"batch_workers", cfg.Engine.BatchWorkers,
		"storage", stores.kind)

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	for _, pool := range pools {
		pool.Wait()
	}
	logger.Info("engine stopped")
	return nil
}

// storeSet is every persistence collaborator, backed by Postgres when a
// DSN is configured and by memory otherwise. The queue and the document
// store stay in memory either way: the job table is the durable record the
// queue redelivers from, and documents are rebuilt by their routines.
type storeSet struct {
	kind string

	jobs        jobs.Store
	events      events.Store
	sessions    sessions.Store
	agents      agents.Store
	documents   agents.DocumentStore
	routines    routines.Store
	routineLogs routines.LogStore
	locks       routines.LockStore

	db *sql.DB
}

func (s *storeSet) close() {
	if s.db != nil {
		s.db.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*storeSet, error) {
	if cfg.Database.DSN == "" {
		return &storeSet{
			kind:        "memory",
			jobs:        jobs.NewMemoryStore(),
			events:      events.NewMemoryStore(),
			sessions:    sessions.NewMemoryStore(),
			agents:      agents.NewMemoryStore(),
			documents:   agents.NewMemoryDocumentStore(),
			routines:    routines.NewMemoryStore(),
			routineLogs: routines.NewMemoryLogStore(),
			locks:       routines.NewMemoryLockStore(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := ensureSchemas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &storeSet{
		kind:        "postgres",
		jobs:        jobs.NewPostgresStore(db),
		events:      events.NewPostgresStore(db),
		sessions:    sessions.NewPostgresStore(db),
		agents:      agents.NewPostgresStore(db),
		documents:   agents.NewMemoryDocumentStore(),
		routines:    routines.NewPostgresStore(db),
		routineLogs: routines.NewPostgresLogStore(db),
		locks:       routines.NewPostgresLockStore(db),
		db:          db,
	}, nil
}

// schemaEnsurers lists every table-creating migration in dependency order.
func schemaEnsurers(db *sql.DB) []func(context.Context) error {
	return []func(context.Context) error{
		jobs.NewPostgresStore(db).EnsureSchema,
		events.NewPostgresStore(db).EnsureSchema,
		sessions.NewPostgresStore(db).EnsureSchema,
		agents.NewPostgresStore(db).EnsureSchema,
		routines.NewPostgresStore(db).EnsureSchema,
		routines.NewPostgresLockStore(db).EnsureSchema,
	}
}

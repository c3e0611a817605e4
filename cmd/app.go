package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"formacal/internal/caldav"
	"formacal/internal/config"
	"formacal/internal/dates"
	"formacal/internal/google"
	"formacal/internal/metrics"
	"formacal/internal/reconcile"
	"formacal/internal/sessions"
	"formacal/internal/store/memory"
	"formacal/internal/store/postgres"
)

// app is the wiring shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	loc        *time.Location
	projects   reconcile.ProjectStore
	events     reconcile.EventStore
	builder    *sessions.Builder
	formatter  sessions.Formatter
	registry   *prometheus.Registry
	reconciler *reconcile.Reconciler
	closers    []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	logger := setupLogger(cfg.LogLevel)
	if cfg.EventsStore == config.StoreGoogle && cfg.Google.Account == "" {
		if account, err := google.DefaultAccount("."); err == nil {
			logger.Debug("Using the only saved Google account.", "account", account)
			cfg.Google.Account = account
		} else {
			logger.Warn("No Google account selected", "error", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		loc:       dates.LoadLocation(logger, cfg.Timezone),
		builder:   sessions.NewBuilder(logger, sessions.Options{GapWarning: cfg.GapWarning}),
		formatter: cfg.Formatter(),
		registry:  prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.reconciler = reconcile.New(logger, a.projects, a.events, reconcile.Options{
		Attempts:    cfg.Reconcile.Attempts,
		Timeout:     cfg.Reconcile.Timeout,
		Backoff:     cfg.Reconcile.Backoff,
		Concurrency: cfg.Reconcile.Concurrency,
		Builder:     a.builder,
		Formatter:   a.formatter,
		Observer:    metrics.New(a.registry),
	})
	logger.Debug("Initialized stores.", "projects", cfg.ProjectsStore, "events", cfg.EventsStore, "timezone", a.loc.String())
	return a, nil
}

// openStores opens the project store, then the event store. A single store
// serves both when they are of the same kind.
func (a *app) openStores(ctx context.Context) error {
	cfg := a.cfg

	var shared interface {
		reconcile.ProjectStore
		reconcile.EventStore
	}
	switch cfg.ProjectsStore {
	case config.StorePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, a.logger, a.loc)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		shared = pg
	default:
		mem := memory.New(a.logger)
		if cfg.Fixture != "" {
			var err error
			if mem, err = memory.Load(a.logger, cfg.Fixture, a.loc); err != nil {
				return err
			}
		}
		shared = mem
	}
	a.projects = shared

	switch cfg.EventsStore {
	case cfg.ProjectsStore:
		a.events = shared
	case config.StoreGoogle:
		gc, err := google.NewClient(ctx, a.logger, google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Account:      cfg.Google.Account,
			CalendarID:   cfg.Google.CalendarID,
			Location:     a.loc,
		})
		if err != nil {
			return fmt.Errorf("failed to create google client: %w", err)
		}
		a.events = gc
	case config.StoreCalDAV:
		cc, err := caldav.NewClient(ctx, a.logger, caldav.Config{
			Endpoint: cfg.CalDAV.Endpoint,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
			Calendar: cfg.CalDAV.Calendar,
			Location: a.loc,
		})
		if err != nil {
			return fmt.Errorf("failed to create caldav client: %w", err)
		}
		a.events = cc
	default:
		return fmt.Errorf("events_store %q cannot be combined with projects_store %q", cfg.EventsStore, cfg.ProjectsStore)
	}
	return nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close store", "error", err)
		}
	}
}

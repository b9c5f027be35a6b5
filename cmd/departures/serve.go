package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/cache"
	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/metrics"
	"github.com/theoremus-urban-solutions/transit-departures/natspub"
	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/server"
	"github.com/theoremus-urban-solutions/transit-departures/store"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh scheduler and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(false)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("starting", "config", a.cfgPath, "provider", cfg.Provider.Name, "stations", len(cfg.Stations))
	if len(cfg.Stations) == 0 {
		logger.Warn("no stations configured; run 'departures setup' to add one")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	m := metrics.New()
	base, attribution, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	p := provider.Instrument(cfg.Provider.Name, base, m)

	var (
		sinks []entity.Sink
		db    *store.DB
	)
	if cfg.Store.Path != "" {
		db, err = store.Connect(ctx, cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		sinks = append(sinks, db)
	}
	if cfg.NATS.URL != "" {
		pub, nc, err := natspub.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer func() { _ = nc.Drain() }()
		sinks = append(sinks, pub)
	}

	materializer := entity.NewMaterializer(logger,
		entity.WithSinks(sinks...),
		entity.WithRenderer(entity.Renderer{Location: loc, Attribution: attribution}),
	)
	sched := scheduler.New(p, cache.New(), materializer,
		scheduler.WithRecorder(m),
		scheduler.WithOptions(schedulerOptions(cfg.Scheduler)),
		scheduler.WithLogger(logger),
	)
	for _, s := range cfg.Stations {
		if err := sched.Add(ctx, stationConfig(s)); err != nil {
			return fmt.Errorf("station %s: %w", s.ID, err)
		}
	}
	reloader := &stationReloader{path: a.cfgPath, sched: sched, entities: materializer, logger: logger}
	if db != nil {
		reloader.stored = db
	}
	if err := reloader.Sweep(ctx); err != nil {
		logger.Warn("sweeping orphaned entities failed", "error", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloader.watch(runCtx, hup)

	srvOpts := []server.Option{
		server.WithMetrics(m.Handler()),
		server.WithLogger(logger),
		server.WithReloader(reloader),
	}
	if db != nil {
		srvOpts = append(srvOpts, server.WithHistory(db))
		pruned := make(chan struct{})
		go func() {
			defer close(pruned)
			pruneLoop(runCtx, db, cfg.Store.Retention(), logger)
		}()
		defer func() { <-pruned }()
	}
	srv := server.New(server.Config{Port: cfg.Server.Port, CORSOrigins: cfg.Server.CORSOrigins}, sched, materializer, srvOpts...)
	listenErr := srv.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(runCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-listenErr:
		if ok && err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop in time")
	}
	return serveErr
}

func pruneLoop(ctx context.Context, db *store.DB, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		if _, err := db.Prune(ctx, retention); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("history prune failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

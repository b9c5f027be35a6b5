// Package server exposes the scheduler and materialized entities over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/store"
)

// Scheduler is the part of the refresh scheduler the API reads and triggers.
type Scheduler interface {
	Status(stationID string) (scheduler.Status, bool)
	Statuses() []scheduler.Status
	Refresh(stationID string) error
}

// Entities is the part of the materializer the API reads.
type Entities interface {
	State(uniqueID string) (entity.State, bool)
	States(stationID string) []entity.State
}

// History returns recorded state changes of one entity.
type History interface {
	History(ctx context.Context, id string, limit int) ([]store.HistoryPoint, error)
}

// Reloader re-reads the station configuration and applies it to the scheduler.
type Reloader interface {
	Reload(ctx context.Context) (scheduler.ApplyResult, error)
}

// Config holds the listener settings.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	sched    Scheduler
	entities Entities
	history  History
	reloader Reloader
	metrics  http.Handler
	logger   *slog.Logger
	now      func() time.Time
	started  time.Time

	router chi.Router
	srv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the entity history endpoint.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithReloader enables POST /api/reload.
func WithReloader(r Reloader) Option { return func(s *Server) { s.reloader = r } }

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New builds the router. Call Start to listen.
func New(cfg Config, sched Scheduler, entities Entities, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		sched:    sched,
		entities: entities,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "server")
	s.started = s.now()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/reload", s.handleReload)
		r.Get("/stations", s.handleStations)
		r.Get("/stations/{id}", s.handleStation)
		r.Get("/stations/{id}/entities", s.handleStationEntities)
		r.Post("/stations/{id}/refresh", s.handleRefresh)
		r.Get("/entities", s.handleEntities)
		r.Get("/entities/{id}", s.handleEntity)
		r.Get("/entities/{id}/history", s.handleHistory)
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens in the background. Listener errors other than a clean shutdown are
// reported on the returned channel.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	s.logger.Info("server listening", "addr", addr)
	return errc
}

// Shutdown stops accepting requests and waits for in-flight ones up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server shut down successfully")
	return nil
}

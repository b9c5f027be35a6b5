package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/cache"
	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Scheduler owns the refresh loops of all stations.
type Scheduler struct {
	provider provider.Provider
	cache    *cache.DepartureCache
	entities *entity.Materializer
	recorder Recorder
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	stations map[string]*station
	runCtx   context.Context
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecorder reports cycles to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithOptions overrides the tuning options.
func WithOptions(o Options) Option { return func(s *Scheduler) { s.opts = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New wires a scheduler. Stations added before Run start when Run is called.
func New(p provider.Provider, c *cache.DepartureCache, m *entity.Materializer, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider: p,
		cache:    c,
		entities: m,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		stations: map[string]*station{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts = s.opts.withDefaults()
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// station is the per-station loop state. mu guards every field below it and is held
// across the store-and-publish step of a cycle.
type station struct {
	cancel  context.CancelFunc
	reset   chan struct{}
	trigger chan struct{}

	mu                sync.Mutex
	cfg               StationConfig
	generation        uint64
	removed           bool
	started           bool
	status            Status
	messagesFetchedAt time.Time
}

func (st *station) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Add schedules a station, binds its entities, and starts its loop when the
// scheduler is running.
func (s *Scheduler) Add(ctx context.Context, cfg StationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Selectors = transit.NormalizeSelectors(cfg.Selectors)

	s.mu.Lock()
	if _, ok := s.stations[cfg.Station.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStationExists, cfg.Station.ID)
	}
	st := &station{
		cfg:     cfg,
		reset:   make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
		status: Status{
			StationID:   cfg.Station.ID,
			StationName: cfg.Station.Name,
			Phase:       PhaseIdle,
			Interval:    cfg.Interval.String(),
		},
	}
	st.mu.Lock()
	s.stations[cfg.Station.ID] = st
	runCtx := s.runCtx
	s.mu.Unlock()

	if _, err := s.entities.Reconcile(ctx, cfg.Station, cfg.Selectors); err != nil {
		s.logger.Warn("entity sink rejected bindings", "station", cfg.Station.ID, "error", err)
	}
	s.publishLocked(ctx, st)
	st.mu.Unlock()
	s.logger.Info("station added", "station", cfg.Station.ID, "name", cfg.Station.Name,
		"selectors", len(cfg.Selectors), "interval", cfg.Interval)
	if runCtx != nil {
		s.start(runCtx, st)
	}
	return nil
}

// Update applies new options to a scheduled station without removing it. Only the
// entities whose selector disappeared are torn down; the rest are republished from
// the cache without a fetch. A changed interval re-arms the timer.
func (s *Scheduler) Update(ctx context.Context, cfg StationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Selectors = transit.NormalizeSelectors(cfg.Selectors)
	st, err := s.lookup(cfg.Station.ID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.removed {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStation, cfg.Station.ID)
	}
	cfg.Station = st.cfg.Station
	intervalChanged := st.cfg.Interval != cfg.Interval
	st.cfg = cfg
	st.status.Interval = cfg.Interval.String()

	diff, err := s.entities.Reconcile(ctx, cfg.Station, cfg.Selectors)
	if err != nil {
		s.logger.Warn("entity sink rejected bindings", "station", cfg.Station.ID, "error", err)
	}
	s.publishLocked(ctx, st)
	st.mu.Unlock()

	s.logger.Info("station updated", "station", cfg.Station.ID,
		"added", len(diff.Added), "removed", len(diff.Removed), "interval", cfg.Interval)
	if intervalChanged {
		st.signal(st.reset)
	}
	return nil
}

// Remove stops the station's loop and drops its entities and snapshot. A fetch that
// is in flight completes into nothing.
func (s *Scheduler) Remove(ctx context.Context, stationID string) error {
	s.mu.Lock()
	st, ok := s.stations[stationID]
	delete(s.stations, stationID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}

	st.mu.Lock()
	st.removed = true
	st.generation++
	cancel := st.cancel
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.cache.Delete(stationID)
	s.recorder.Forget(stationID)
	err := s.entities.Release(ctx, stationID)
	s.logger.Info("station removed", "station", stationID)
	return err
}

// Apply makes the scheduled stations equal to cfgs. Unknown stations are added,
// changed ones updated in place and stations missing from cfgs removed. A renamed
// station is removed and added again so that its entity IDs follow the new name.
// Invalid input is rejected before anything changes.
func (s *Scheduler) Apply(ctx context.Context, cfgs []StationConfig) (ApplyResult, error) {
	var res ApplyResult
	want := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return res, fmt.Errorf("station %s: %w", cfg.Station.ID, err)
		}
		if _, dup := want[cfg.Station.ID]; dup {
			return res, fmt.Errorf("%w: station %s listed twice", transit.ErrConfigurationInvalid, cfg.Station.ID)
		}
		want[cfg.Station.ID] = struct{}{}
	}

	current := make(map[string]StationConfig)
	var errs []error
	for _, cfg := range s.Stations() {
		id := cfg.Station.ID
		if _, ok := want[id]; ok {
			current[id] = cfg
			continue
		}
		if err := s.Remove(ctx, id); err != nil && !errors.Is(err, ErrUnknownStation) {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
		}
		res.Removed = append(res.Removed, id)
	}

	for _, cfg := range cfgs {
		id := cfg.Station.ID
		cur, ok := current[id]
		switch {
		case !ok:
			if err := s.Add(ctx, cfg); err != nil {
				errs = append(errs, fmt.Errorf("add %s: %w", id, err))
				continue
			}
			res.Added = append(res.Added, id)
		case cur.same(cfg):
			res.Unchanged = append(res.Unchanged, id)
		case cur.Station != cfg.Station:
			if err := s.Remove(ctx, id); err != nil && !errors.Is(err, ErrUnknownStation) {
				errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
			}
			if err := s.Add(ctx, cfg); err != nil {
				errs = append(errs, fmt.Errorf("add %s: %w", id, err))
				continue
			}
			res.Updated = append(res.Updated, id)
		default:
			if err := s.Update(ctx, cfg); err != nil {
				errs = append(errs, fmt.Errorf("update %s: %w", id, err))
				continue
			}
			res.Updated = append(res.Updated, id)
		}
	}
	return res, errors.Join(errs...)
}

// Refresh asks the station's loop to run a cycle now. Requests made while a cycle is
// running coalesce into one.
func (s *Scheduler) Refresh(stationID string) error {
	st, err := s.lookup(stationID)
	if err != nil {
		return err
	}
	st.signal(st.trigger)
	return nil
}

// Status returns the refresh status of one station.
func (s *Scheduler) Status(stationID string) (Status, bool) {
	st, err := s.lookup(stationID)
	if err != nil {
		return Status{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, true
}

// Statuses returns every station's status ordered by station ID.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	stations := make([]*station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(stations))
	for _, st := range stations {
		st.mu.Lock()
		out = append(out, st.status)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Stations returns the configured stations ordered by ID.
func (s *Scheduler) Stations() []StationConfig {
	s.mu.Lock()
	stations := make([]*station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	s.mu.Unlock()

	out := make([]StationConfig, 0, len(stations))
	for _, st := range stations {
		st.mu.Lock()
		out = append(out, st.cfg)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Station.ID < out[j].Station.ID })
	return out
}

// Run starts every scheduled station and blocks until ctx is cancelled and all loops
// have exited.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.runCtx = ctx
	stations := make([]*station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started", "stations", len(stations))
	for _, st := range stations {
		s.start(ctx, st)
	}
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) lookup(stationID string) (*station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stations[stationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}
	return st, nil
}

func (s *Scheduler) start(parent context.Context, st *station) {
	st.mu.Lock()
	if st.started || st.removed {
		st.mu.Unlock()
		return
	}
	st.started = true
	ctx, cancel := context.WithCancel(parent)
	st.cancel = cancel
	st.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.loop(ctx, st)
	}()
}

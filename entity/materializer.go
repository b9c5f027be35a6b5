package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/aggregator"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// ErrNotBound is returned when publishing to a binding that is no longer registered.
var ErrNotBound = errors.New("entity not bound")

// Diff reports what a reconcile changed.
type Diff struct {
	Added   []*Binding
	Removed []*Binding
	Kept    []*Binding
}

// Changed reports whether any binding was created or removed.
func (d Diff) Changed() bool { return len(d.Added) > 0 || len(d.Removed) > 0 }

// Materializer owns the binding set and the last published state of every entity.
type Materializer struct {
	mu       sync.RWMutex
	bindings map[string]map[string]*Binding // station ID -> view key -> binding
	states   map[string]State               // unique ID -> last published state

	sink     Sink
	renderer Renderer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithSinks sets the sinks that mirror bindings and states.
func WithSinks(sinks ...Sink) Option {
	return func(m *Materializer) { m.sink = MultiSink(sinks) }
}

// WithRenderer overrides the state renderer.
func WithRenderer(r Renderer) Option {
	return func(m *Materializer) { m.renderer = r }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// NewMaterializer creates an empty materializer.
func NewMaterializer(logger *slog.Logger, opts ...Option) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Materializer{
		bindings: map[string]map[string]*Binding{},
		states:   map[string]State{},
		sink:     MultiSink(nil),
		renderer: Renderer{Location: time.Local},
		logger:   logger.With("component", "entity"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconcile makes the station's bindings equal to the fixed station views plus one
// per selector. Bindings present on both sides are returned untouched. A new binding
// whose entity ID is already taken by another binding gets a numeric suffix. Sink
// errors are returned joined but never leave the in-memory set half-applied.
func (m *Materializer) Reconcile(ctx context.Context, station transit.Station, selectors []transit.Selector) (Diff, error) {
	desired := desiredViews(station.ID, selectors)
	want := make(map[string]struct{}, len(desired))
	for _, view := range desired {
		want[view.Key()] = struct{}{}
	}

	m.mu.Lock()
	current := m.bindings[station.ID]
	if current == nil {
		current = map[string]*Binding{}
		m.bindings[station.ID] = current
	}
	var diff Diff
	for key, b := range current {
		if _, ok := want[key]; !ok {
			delete(current, key)
			delete(m.states, b.UniqueID)
			diff.Removed = append(diff.Removed, b)
		}
	}
	taken := m.entityIDsLocked()
	for _, view := range desired {
		key := view.Key()
		if b, ok := current[key]; ok {
			diff.Kept = append(diff.Kept, b)
			continue
		}
		b := NewBinding(station.Name, view)
		b.EntityID = uniqueEntityID(b.EntityID, taken)
		taken[b.EntityID] = struct{}{}
		current[key] = b
		diff.Added = append(diff.Added, b)
	}
	m.mu.Unlock()

	sortBindings(diff.Removed)
	var errs []error
	for _, b := range diff.Removed {
		m.logger.Info("removing entity", "station", station.ID, "entity_id", b.EntityID)
		if err := m.sink.Unregister(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", b.EntityID, err))
		}
	}
	for _, b := range diff.Added {
		m.logger.Info("adding entity", "station", station.ID, "entity_id", b.EntityID)
		if err := m.sink.Register(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", b.EntityID, err))
		}
	}
	return diff, errors.Join(errs...)
}

// Release removes every binding of a station.
func (m *Materializer) Release(ctx context.Context, stationID string) error {
	m.mu.Lock()
	current := m.bindings[stationID]
	delete(m.bindings, stationID)
	removed := make([]*Binding, 0, len(current))
	for _, b := range current {
		delete(m.states, b.UniqueID)
		removed = append(removed, b)
	}
	m.mu.Unlock()

	sortBindings(removed)
	var errs []error
	for _, b := range removed {
		if err := m.sink.Unregister(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", b.EntityID, err))
		}
	}
	if len(removed) > 0 {
		m.logger.Info("released station entities", "station", stationID, "count", len(removed))
	}
	return errors.Join(errs...)
}

// Bindings returns the station's current bindings ordered by entity ID.
func (m *Materializer) Bindings(stationID string) []*Binding {
	m.mu.RLock()
	out := make([]*Binding, 0, len(m.bindings[stationID]))
	for _, b := range m.bindings[stationID] {
		out = append(out, b)
	}
	m.mu.RUnlock()
	sortBindings(out)
	return out
}

// Publish writes st for b. It returns false without touching any sink when the state
// is identical to the last one published.
func (m *Materializer) Publish(ctx context.Context, b *Binding, st State) (bool, error) {
	m.mu.Lock()
	if current, ok := m.bindings[b.View.StationID][b.View.Key()]; !ok || current != b {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotBound, b.EntityID)
	}
	prev, had := m.states[b.UniqueID]
	if had && sameContent(prev, st) {
		m.mu.Unlock()
		return false, nil
	}
	st.Revision = prev.Revision + 1
	st.UpdatedAt = m.now()
	m.states[b.UniqueID] = st
	m.mu.Unlock()

	if err := m.sink.Write(ctx, st); err != nil {
		return true, fmt.Errorf("write %s: %w", b.EntityID, err)
	}
	return true, nil
}

// PublishViews renders and publishes every binding of the station. It returns how
// many entities changed.
func (m *Materializer) PublishViews(ctx context.Context, stationID string, vs aggregator.ViewSet, h Health) (int, error) {
	now := m.now()
	changed := 0
	var errs []error
	for _, b := range m.Bindings(stationID) {
		ok, err := m.Publish(ctx, b, m.renderer.Render(b, vs, h, now))
		if err != nil {
			if errors.Is(err, ErrNotBound) {
				continue
			}
			errs = append(errs, err)
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// State returns the last published state of an entity.
func (m *Materializer) State(uniqueID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[uniqueID]
	return st, ok
}

// States returns all published states, optionally restricted to one station, ordered
// by entity ID.
func (m *Materializer) States(stationID string) []State {
	m.mu.RLock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		if stationID == "" || st.StationID == stationID {
			out = append(out, st)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Sweep unregisters the stored bindings that no station binds anymore, such as the
// entities of a selector dropped while the service was down. It must not run
// concurrently with Reconcile. It returns how many orphans were unregistered.
func (m *Materializer) Sweep(ctx context.Context, stored []*Binding) (int, error) {
	m.mu.RLock()
	bound := make(map[string]struct{}, len(m.states))
	for _, views := range m.bindings {
		for _, b := range views {
			bound[b.UniqueID] = struct{}{}
		}
	}
	m.mu.RUnlock()

	var orphans []*Binding
	for _, b := range stored {
		if _, ok := bound[b.UniqueID]; !ok {
			orphans = append(orphans, b)
		}
	}
	sortBindings(orphans)
	swept := 0
	var errs []error
	for _, b := range orphans {
		m.logger.Info("removing orphaned entity", "station", b.View.StationID, "entity_id", b.EntityID)
		if err := m.sink.Unregister(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", b.EntityID, err))
			continue
		}
		swept++
	}
	return swept, errors.Join(errs...)
}

// entityIDsLocked returns every bound entity ID. The caller holds m.mu.
func (m *Materializer) entityIDsLocked() map[string]struct{} {
	taken := make(map[string]struct{})
	for _, views := range m.bindings {
		for _, b := range views {
			taken[b.EntityID] = struct{}{}
		}
	}
	return taken
}

// uniqueEntityID returns id, or id with the lowest free suffix _2, _3, ... when id
// is taken.
func uniqueEntityID(id string, taken map[string]struct{}) string {
	if _, ok := taken[id]; !ok {
		return id
	}
	for n := 2; ; n++ {
		candidate := id + "_" + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func sortBindings(bs []*Binding) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].EntityID < bs[j].EntityID })
}

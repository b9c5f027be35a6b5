package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/transit-departures/cache"
	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

type fakeProvider struct {
	mu         sync.Mutex
	departures map[string][]transit.Departure
	messages   []transit.Message
	depErr     map[string]error
	msgErr     error
	depCalls   map[string]int
	msgCalls   int
	block      chan struct{}
	entered    chan struct{}
	lastLimit  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		departures: map[string][]transit.Departure{},
		depErr:     map[string]error{},
		depCalls:   map[string]int{},
	}
}

func (f *fakeProvider) Search(context.Context, string) ([]transit.StationCandidate, error) {
	return nil, nil
}

func (f *fakeProvider) FetchDepartures(_ context.Context, id string, limit int) ([]transit.Departure, error) {
	f.mu.Lock()
	f.depCalls[id]++
	f.lastLimit = limit
	block, entered := f.block, f.entered
	deps, err := f.departures[id], f.depErr[id]
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return deps, err
}

func (f *fakeProvider) FetchMessages(context.Context, string) ([]transit.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls++
	return f.messages, f.msgErr
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depCalls[id]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	base        = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	marienplatz = transit.Station{ID: "de:09162:2", Name: "Marienplatz"}
	sendlinger  = transit.Station{ID: "de:09162:1", Name: "Sendlinger Tor"}
	u3          = transit.Selector{Line: "U3", Direction: "Moosach"}
	u6          = transit.Selector{Line: "U6", Direction: "Garching"}
)

func departures() []transit.Departure {
	return []transit.Departure{
		{Line: "U3", Direction: "Moosach", Destination: "Moosach", Planned: base.Add(2 * time.Minute)},
		{Line: "U6", Direction: "Garching", Destination: "Garching", Planned: base.Add(4 * time.Minute)},
		{Line: "U3", Direction: "Moosach", Destination: "Moosach", Planned: base.Add(12 * time.Minute)},
	}
}

type harness struct {
	provider *fakeProvider
	cache    *cache.DepartureCache
	entities *entity.Materializer
	clock    *clock
	sched    *Scheduler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		provider: newFakeProvider(),
		cache:    cache.New(),
		clock:    &clock{now: base},
	}
	h.entities = entity.NewMaterializer(nil, entity.WithClock(h.clock.Now))
	h.sched = New(h.provider, h.cache, h.entities, append([]Option{WithClock(h.clock.Now)}, opts...)...)
	return h
}

func stationCfg(st transit.Station, sels ...transit.Selector) StationConfig {
	return StationConfig{Station: st, Selectors: sels, Limit: 10, Interval: 5 * time.Minute}
}

func (h *harness) add(t *testing.T, st transit.Station, sels ...transit.Selector) *station {
	t.Helper()
	require.NoError(t, h.sched.Add(context.Background(), stationCfg(st, sels...)))
	got, err := h.sched.lookup(st.ID)
	require.NoError(t, err)
	return got
}

func (h *harness) state(t *testing.T, stationID string, kind transit.ViewKind) entity.State {
	t.Helper()
	for _, st := range h.entities.States(stationID) {
		if st.Kind == kind {
			return st
		}
	}
	t.Fatalf("no %s state for %s", kind, stationID)
	return entity.State{}
}

func TestAddBindsEntitiesBeforeFirstFetch(t *testing.T) {
	h := newHarness(t)
	h.add(t, marienplatz, u3, u6)

	assert.Len(t, h.entities.Bindings(marienplatz.ID), 5)
	for _, st := range h.entities.States(marienplatz.ID) {
		assert.False(t, st.Available, "%s has no data yet", st.EntityID)
	}
	assert.Zero(t, h.provider.calls(marienplatz.ID))
}

func TestAddRejectsInvalidAndDuplicate(t *testing.T) {
	h := newHarness(t)
	h.add(t, marienplatz)

	err := h.sched.Add(context.Background(), StationConfig{Station: marienplatz, Limit: 10, Interval: time.Minute})
	assert.ErrorIs(t, err, ErrStationExists)

	err = h.sched.Add(context.Background(), StationConfig{Station: sendlinger, Limit: 25, Interval: time.Minute})
	assert.ErrorIs(t, err, transit.ErrConfigurationInvalid)

	err = h.sched.Add(context.Background(), StationConfig{Station: sendlinger, Limit: 5, Interval: 2 * time.Hour})
	assert.ErrorIs(t, err, transit.ErrConfigurationInvalid)
}

func TestCyclePublishes(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz, u3)

	h.sched.cycle(context.Background(), st)

	snap, ok := h.cache.Read(marienplatz.ID)
	require.True(t, ok)
	assert.Len(t, snap.Departures, 3)
	assert.Equal(t, DefaultFetchLimit, h.provider.lastLimit)

	next := h.state(t, marienplatz.ID, transit.ViewNextDeparture)
	assert.True(t, next.Available)
	require.NotNil(t, next.Value)
	assert.Equal(t, 2, *next.Value)

	status, ok := h.sched.Status(marienplatz.ID)
	require.True(t, ok)
	assert.Equal(t, base, status.LastSuccess)
	assert.Equal(t, PhaseIdle, status.Phase)
	assert.Zero(t, status.ConsecutiveFailures)
}

func TestFailedCycleKeepsSnapshotAndTurnsStale(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz)
	ctx := context.Background()

	h.sched.cycle(ctx, st)
	before, ok := h.cache.Read(marienplatz.ID)
	require.True(t, ok)

	h.provider.set(func(f *fakeProvider) {
		f.depErr[marienplatz.ID] = transit.Unavailable("departures", errors.New("connection refused"))
	})
	for i := 1; i <= DefaultStaleAfterFailures; i++ {
		h.clock.Advance(5 * time.Minute)
		h.sched.cycle(ctx, st)

		after, ok := h.cache.Read(marienplatz.ID)
		require.True(t, ok)
		assert.Same(t, before, after, "failed cycle must not touch the cache")

		status, _ := h.sched.Status(marienplatz.ID)
		assert.Equal(t, i, status.ConsecutiveFailures)
		assert.Equal(t, "unavailable", status.LastErrorKind)
		assert.Equal(t, i >= DefaultStaleAfterFailures, status.Stale)

		all := h.state(t, marienplatz.ID, transit.ViewAllDepartures)
		assert.True(t, all.Available, "last known good data stays available")
		assert.Equal(t, status.Stale, all.Stale)
	}

	h.provider.set(func(f *fakeProvider) { delete(f.depErr, marienplatz.ID) })
	h.sched.cycle(ctx, st)
	status, _ := h.sched.Status(marienplatz.ID)
	assert.False(t, status.Stale)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.False(t, h.state(t, marienplatz.ID, transit.ViewAllDepartures).Stale)
}

func TestStationsFailIndependently(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	h.provider.depErr[sendlinger.ID] = transit.Invalid("departures", errors.New("bad payload"))
	a := h.add(t, marienplatz)
	b := h.add(t, sendlinger)

	h.sched.cycle(context.Background(), a)
	h.sched.cycle(context.Background(), b)

	sa, _ := h.sched.Status(marienplatz.ID)
	sb, _ := h.sched.Status(sendlinger.ID)
	assert.Zero(t, sa.ConsecutiveFailures)
	assert.Equal(t, 1, sb.ConsecutiveFailures)
	assert.Equal(t, "invalid_response", sb.LastErrorKind)
	assert.True(t, h.state(t, marienplatz.ID, transit.ViewNextDeparture).Available)
	assert.False(t, h.state(t, sendlinger.ID, transit.ViewNextDeparture).Available)
}

func TestRemoveDiscardsInFlightResult(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz, u3)

	h.provider.set(func(f *fakeProvider) {
		f.block = make(chan struct{})
		f.entered = make(chan struct{}, 1)
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sched.cycle(context.Background(), st)
	}()
	<-h.provider.entered

	require.NoError(t, h.sched.Remove(context.Background(), marienplatz.ID))
	close(h.provider.block)
	<-done

	_, ok := h.cache.Read(marienplatz.ID)
	assert.False(t, ok, "late result must not recreate the snapshot")
	assert.Empty(t, h.entities.Bindings(marienplatz.ID))
	assert.Empty(t, h.entities.States(marienplatz.ID))
	_, ok = h.sched.Status(marienplatz.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, h.sched.Remove(context.Background(), marienplatz.ID), ErrUnknownStation)
}

func TestUpdateReconcilesWithoutFetch(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz, u3, u6)
	h.sched.cycle(context.Background(), st)

	kept := map[string]*entity.Binding{}
	for _, b := range h.entities.Bindings(marienplatz.ID) {
		kept[b.UniqueID] = b
	}

	err := h.sched.Update(context.Background(), StationConfig{
		Station:   marienplatz,
		Selectors: []transit.Selector{u3},
		Limit:     1,
		Interval:  10 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.calls(marienplatz.ID), "options update must not fetch")

	bindings := h.entities.Bindings(marienplatz.ID)
	require.Len(t, bindings, 4)
	for _, b := range bindings {
		assert.Same(t, kept[b.UniqueID], b)
	}

	all := h.state(t, marienplatz.ID, transit.ViewAllDepartures)
	assert.Len(t, all.Attributes["departures"], 1, "new limit applies from the cached snapshot")

	status, _ := h.sched.Status(marienplatz.ID)
	assert.Equal(t, "10m0s", status.Interval)

	assert.ErrorIs(t, h.sched.Update(context.Background(), StationConfig{Station: sendlinger, Limit: 5, Interval: time.Minute}), ErrUnknownStation)
}

func TestMessagesRefreshOnTheirOwnInterval(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	h.provider.messages = []transit.Message{{Lines: []string{"U3"}, Title: "Bauarbeiten", Body: "Ersatzverkehr"}}
	st := h.add(t, marienplatz)
	ctx := context.Background()

	h.sched.cycle(ctx, st)
	h.clock.Advance(5 * time.Minute)
	h.sched.cycle(ctx, st)
	assert.Equal(t, 1, h.provider.msgCalls)

	snap, _ := h.cache.Read(marienplatz.ID)
	assert.Len(t, snap.Messages, 1, "departure-only cycles keep the messages")

	h.provider.set(func(f *fakeProvider) { f.msgErr = transit.Unavailable("messages", errors.New("timeout")) })
	h.clock.Advance(DefaultMessagesInterval)
	h.sched.cycle(ctx, st)
	assert.Equal(t, 2, h.provider.msgCalls)

	snap, _ = h.cache.Read(marienplatz.ID)
	assert.Len(t, snap.Messages, 1, "a failed message refresh keeps the previous messages")
	assert.Equal(t, h.clock.Now(), snap.FetchedAt)
	status, _ := h.sched.Status(marienplatz.ID)
	assert.Zero(t, status.ConsecutiveFailures)
}

func TestRunAndRefresh(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	h.add(t, marienplatz)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- h.sched.Run(ctx) }()

	require.Eventually(t, func() bool { return h.provider.calls(marienplatz.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.sched.Refresh(marienplatz.ID))
	require.Eventually(t, func() bool { return h.provider.calls(marienplatz.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	h.add(t, sendlinger)
	require.Eventually(t, func() bool { return h.provider.calls(sendlinger.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.ErrorIs(t, h.sched.Refresh("missing"), ErrUnknownStation)
}

func TestStatusesAndStations(t *testing.T) {
	h := newHarness(t)
	h.add(t, marienplatz)
	h.add(t, sendlinger)

	statuses := h.sched.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, sendlinger.ID, statuses[0].StationID)

	stations := h.sched.Stations()
	require.Len(t, stations, 2)
	assert.Equal(t, marienplatz, stations[1].Station)
}

func nextValue(t *testing.T, h *harness) (int, any) {
	t.Helper()
	next := h.state(t, marienplatz.ID, transit.ViewNextDeparture)
	require.NotNil(t, next.Value)
	return *next.Value, next.Attributes["line"]
}

func TestRerenderFollowsClockWithoutFetch(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz, u3)
	ctx := context.Background()
	h.sched.cycle(ctx, st)

	value, line := nextValue(t, h)
	assert.Equal(t, 2, value)
	assert.Equal(t, "U3", line)

	h.clock.Advance(3 * time.Minute)
	h.sched.rerender(ctx, st)
	value, line = nextValue(t, h)
	assert.Equal(t, 1, value)
	assert.Equal(t, "U6", line, "departed trains drop out between fetches")

	h.clock.Advance(2 * time.Minute)
	h.sched.rerender(ctx, st)
	value, line = nextValue(t, h)
	assert.Equal(t, 7, value)
	assert.Equal(t, "U3", line)

	list := h.state(t, marienplatz.ID, transit.ViewLineDirection)
	require.NotNil(t, list.Value)
	assert.Equal(t, 7, *list.Value)
	assert.Equal(t, 1, h.provider.calls(marienplatz.ID))

	require.NoError(t, h.sched.Remove(ctx, marienplatz.ID))
	h.sched.rerender(ctx, st)
	assert.Empty(t, h.entities.States(marienplatz.ID))
}

func TestLoopRerendersOnRenderInterval(t *testing.T) {
	h := newHarness(t, WithOptions(Options{RenderInterval: 10 * time.Millisecond}))
	h.provider.departures[marienplatz.ID] = departures()
	h.add(t, marienplatz)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.sched.Run(ctx)
	}()
	require.Eventually(t, func() bool { return h.provider.calls(marienplatz.ID) == 1 }, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool {
		for _, st := range h.entities.States(marienplatz.ID) {
			if st.Kind == transit.ViewNextDeparture {
				return st.Value != nil && *st.Value == 1
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.provider.calls(marienplatz.ID))

	cancel()
	<-stopped
}

func TestOutdatedSnapshotTurnsStale(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	st := h.add(t, marienplatz)
	ctx := context.Background()
	h.sched.cycle(ctx, st)

	maxAge := stationCfg(marienplatz).MaxAge(DefaultStaleAfterFailures)
	assert.Equal(t, 15*time.Minute, maxAge)

	h.clock.Advance(maxAge)
	h.sched.rerender(ctx, st)
	assert.False(t, h.state(t, marienplatz.ID, transit.ViewAllDepartures).Stale)

	h.clock.Advance(time.Minute)
	h.sched.rerender(ctx, st)
	all := h.state(t, marienplatz.ID, transit.ViewAllDepartures)
	assert.True(t, all.Stale, "no fetch has failed but the data is too old")
	assert.True(t, all.Available)
	status, _ := h.sched.Status(marienplatz.ID)
	assert.True(t, status.Stale)
	assert.Zero(t, status.ConsecutiveFailures)

	h.sched.cycle(ctx, st)
	assert.False(t, h.state(t, marienplatz.ID, transit.ViewAllDepartures).Stale)
	status, _ = h.sched.Status(marienplatz.ID)
	assert.False(t, status.Stale)
}

func TestApplyReconfiguresStations(t *testing.T) {
	h := newHarness(t)
	h.provider.departures[marienplatz.ID] = departures()
	odeonsplatz := transit.Station{ID: "de:09162:50", Name: "Odeonsplatz"}
	st := h.add(t, marienplatz, u3, u6)
	h.add(t, sendlinger)
	ctx := context.Background()
	h.sched.cycle(ctx, st)
	kept := h.entities.Bindings(marienplatz.ID)[0]

	res, err := h.sched.Apply(ctx, []StationConfig{stationCfg(marienplatz, u3), stationCfg(odeonsplatz)})
	require.NoError(t, err)
	assert.Equal(t, []string{odeonsplatz.ID}, res.Added)
	assert.Equal(t, []string{marienplatz.ID}, res.Updated)
	assert.Equal(t, []string{sendlinger.ID}, res.Removed)
	assert.True(t, res.Changed())

	assert.Len(t, h.entities.Bindings(marienplatz.ID), 4)
	assert.Same(t, kept, h.entities.Bindings(marienplatz.ID)[0])
	assert.Empty(t, h.entities.Bindings(sendlinger.ID))
	assert.Len(t, h.entities.Bindings(odeonsplatz.ID), 3)
	assert.Equal(t, 1, h.provider.calls(marienplatz.ID), "reconfiguring must not fetch")

	res, err = h.sched.Apply(ctx, []StationConfig{stationCfg(odeonsplatz), stationCfg(marienplatz, u3)})
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Len(t, res.Unchanged, 2)

	renamed := transit.Station{ID: marienplatz.ID, Name: "Marienplatz Zentrum"}
	res, err = h.sched.Apply(ctx, []StationConfig{stationCfg(odeonsplatz), stationCfg(renamed, u3)})
	require.NoError(t, err)
	assert.Equal(t, []string{marienplatz.ID}, res.Updated)
	for _, b := range h.entities.Bindings(marienplatz.ID) {
		assert.Contains(t, b.EntityID, "sensor.marienplatz_zentrum_")
	}

	invalid := stationCfg(sendlinger)
	invalid.Limit = 0
	_, err = h.sched.Apply(ctx, []StationConfig{invalid})
	assert.ErrorIs(t, err, transit.ErrConfigurationInvalid)
	assert.Len(t, h.sched.Stations(), 2, "invalid input changes nothing")

	_, err = h.sched.Apply(ctx, []StationConfig{stationCfg(odeonsplatz), stationCfg(odeonsplatz)})
	assert.ErrorIs(t, err, transit.ErrConfigurationInvalid)
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/store"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

type fakeScheduler struct {
	statuses  []scheduler.Status
	refreshed []string
}

func (f *fakeScheduler) Status(id string) (scheduler.Status, bool) {
	for _, st := range f.statuses {
		if st.StationID == id {
			return st, true
		}
	}
	return scheduler.Status{}, false
}

func (f *fakeScheduler) Statuses() []scheduler.Status { return f.statuses }

func (f *fakeScheduler) Refresh(id string) error {
	if _, ok := f.Status(id); !ok {
		return scheduler.ErrUnknownStation
	}
	f.refreshed = append(f.refreshed, id)
	return nil
}

type fakeEntities []entity.State

func (f fakeEntities) State(uniqueID string) (entity.State, bool) {
	for _, st := range f {
		if st.UniqueID == uniqueID {
			return st, true
		}
	}
	return entity.State{}, false
}

func (f fakeEntities) States(stationID string) []entity.State {
	out := []entity.State{}
	for _, st := range f {
		if stationID == "" || st.StationID == stationID {
			out = append(out, st)
		}
	}
	return out
}

type fakeHistory map[string][]store.HistoryPoint

func (f fakeHistory) History(_ context.Context, id string, limit int) ([]store.HistoryPoint, error) {
	points, ok := f[id]
	if !ok {
		return nil, store.ErrUnknownEntity
	}
	if len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeScheduler) {
	t.Helper()
	sched := &fakeScheduler{statuses: []scheduler.Status{
		{StationID: "de:09162:2", StationName: "Marienplatz", Phase: scheduler.PhaseIdle},
		{StationID: "de:09162:6", StationName: "Hauptbahnhof", Phase: scheduler.PhaseIdle, Stale: true, ConsecutiveFailures: 3},
	}}
	value := 4
	entities := fakeEntities{
		{UniqueID: "u-1", EntityID: "sensor.marienplatz_next_departure", StationID: "de:09162:2", Kind: transit.ViewNextDeparture, Value: &value, Available: true},
		{UniqueID: "u-2", EntityID: "sensor.hauptbahnhof_messages", StationID: "de:09162:6", Kind: transit.ViewMessages},
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(Config{Port: 0}, sched, entities, opts...), sched
}

func get(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestHealthReportsStaleStations(t *testing.T) {
	srv, _ := newTestServer(t)

	var body healthResponse
	rec := get(t, srv.Handler(), http.MethodGet, "/api/health", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, 2, body.Stations)
	assert.Equal(t, []string{"de:09162:6"}, body.StaleStations)
}

func TestStations(t *testing.T) {
	srv, _ := newTestServer(t)

	var body stationsResponse
	rec := get(t, srv.Handler(), http.MethodGet, "/api/stations", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, body.Count)

	var st scheduler.Status
	rec = get(t, srv.Handler(), http.MethodGet, "/api/stations/de:09162:6", &st)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, st.ConsecutiveFailures)

	var errBody ErrorResponse
	rec = get(t, srv.Handler(), http.MethodGet, "/api/stations/nope", &errBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "station not found", errBody.Error)
}

func TestStationEntities(t *testing.T) {
	srv, _ := newTestServer(t)

	var body entitiesResponse
	rec := get(t, srv.Handler(), http.MethodGet, "/api/stations/de:09162:2/entities", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "sensor.marienplatz_next_departure", body.Entities[0].EntityID)
	require.NotNil(t, body.Entities[0].Value)
	assert.Equal(t, 4, *body.Entities[0].Value)

	rec = get(t, srv.Handler(), http.MethodGet, "/api/stations/nope/entities", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntities(t *testing.T) {
	srv, _ := newTestServer(t)

	var all entitiesResponse
	get(t, srv.Handler(), http.MethodGet, "/api/entities", &all)
	assert.Equal(t, 2, all.Count)

	var filtered entitiesResponse
	get(t, srv.Handler(), http.MethodGet, "/api/entities?station=de:09162:6", &filtered)
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, "u-2", filtered.Entities[0].UniqueID)

	t.Run("by unique id", func(t *testing.T) {
		var st entity.State
		rec := get(t, srv.Handler(), http.MethodGet, "/api/entities/u-1", &st)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, st.Available)
	})
	t.Run("by entity id", func(t *testing.T) {
		var st entity.State
		rec := get(t, srv.Handler(), http.MethodGet, "/api/entities/sensor.hauptbahnhof_messages", &st)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u-2", st.UniqueID)
	})
	t.Run("unknown", func(t *testing.T) {
		rec := get(t, srv.Handler(), http.MethodGet, "/api/entities/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRefresh(t *testing.T) {
	srv, sched := newTestServer(t)

	rec := get(t, srv.Handler(), http.MethodPost, "/api/stations/de:09162:2/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"de:09162:2"}, sched.refreshed)

	rec = get(t, srv.Handler(), http.MethodPost, "/api/stations/nope/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, srv.Handler(), http.MethodGet, "/api/stations/de:09162:2/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeReloader struct {
	res   scheduler.ApplyResult
	err   error
	calls int
}

func (f *fakeReloader) Reload(context.Context) (scheduler.ApplyResult, error) {
	f.calls++
	return f.res, f.err
}

func TestReload(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	reloader := &fakeReloader{res: scheduler.ApplyResult{Added: []string{"de:09162:50"}, Removed: []string{"de:09162:1"}}}
	srv, _ = newTestServer(t, WithReloader(reloader))
	var body reloadResponse
	rec = get(t, srv.Handler(), http.MethodPost, "/api/reload", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"de:09162:50"}, body.Added)
	assert.Equal(t, []string{"de:09162:1"}, body.Removed)
	assert.Empty(t, body.Updated)
	assert.NotNil(t, body.Unchanged)
	assert.Equal(t, 1, reloader.calls)

	reloader.err = fmt.Errorf("station x: %w", transit.ErrConfigurationInvalid)
	rec = get(t, srv.Handler(), http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	reloader.err = errors.New("disk gone")
	rec = get(t, srv.Handler(), http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistory(t *testing.T) {
	t.Run("without store", func(t *testing.T) {
		srv, _ := newTestServer(t)
		rec := get(t, srv.Handler(), http.MethodGet, "/api/entities/u-1/history", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	v1, v2 := 5, 4
	srv, _ := newTestServer(t, WithHistory(fakeHistory{
		"u-1": {
			{Value: &v2, Available: true, Revision: 2, At: testNow},
			{Value: &v1, Available: true, Revision: 1, At: testNow.Add(-time.Minute)},
		},
	}))

	var body historyResponse
	rec := get(t, srv.Handler(), http.MethodGet, "/api/entities/u-1/history?limit=1", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, uint64(2), body.History[0].Revision)

	rec = get(t, srv.Handler(), http.MethodGet, "/api/entities/u-1/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, srv.Handler(), http.MethodGet, "/api/entities/nope/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMountedOnlyWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv, _ = newTestServer(t, WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("departures_up 1\n"))
	})))
	rec = get(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "departures_up")
}

func TestCORSPreflight(t *testing.T) {
	sched := &fakeScheduler{}
	srv := New(Config{CORSOrigins: []string{"http://dashboard.local"}}, sched, fakeEntities{})

	req := httptest.NewRequest(http.MethodOptions, "/api/stations", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdownWithoutStart(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

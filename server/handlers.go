package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/theoremus-urban-solutions/transit-departures/entity"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/store"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type healthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Stations      int       `json:"stations"`
	StaleStations []string  `json:"stale_stations,omitempty"`
}

type stationsResponse struct {
	Stations []scheduler.Status `json:"stations"`
	Count    int                `json:"count"`
}

type entitiesResponse struct {
	Entities []entity.State `json:"entities"`
	Count    int            `json:"count"`
}

type historyResponse struct {
	EntityID string               `json:"entity_id"`
	History  []store.HistoryPoint `json:"history"`
	Count    int                  `json:"count"`
}

// handleHealth reports "degraded" while any station is stale. The status code stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	resp := healthResponse{
		Status:        "ok",
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(s.started) / time.Second),
	}
	statuses := s.sched.Statuses()
	resp.Stations = len(statuses)
	for _, st := range statuses {
		if st.Stale {
			resp.StaleStations = append(resp.StaleStations, st.StationID)
		}
	}
	if len(resp.StaleStations) > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	statuses := s.sched.Statuses()
	writeJSON(w, http.StatusOK, stationsResponse{Stations: statuses, Count: len(statuses)})
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.sched.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, "station not found", map[string]any{"station_id": id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStationEntities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.sched.Status(id); !ok {
		writeError(w, http.StatusNotFound, "station not found", map[string]any{"station_id": id})
		return
	}
	states := s.entities.States(id)
	writeJSON(w, http.StatusOK, entitiesResponse{Entities: states, Count: len(states)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sched.Refresh(id); err != nil {
		if errors.Is(err, scheduler.ErrUnknownStation) {
			writeError(w, http.StatusNotFound, "station not found", map[string]any{"station_id": id})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to trigger refresh", map[string]any{"internal": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled", "station_id": id})
}

// reloadResponse lists the station IDs a reload touched.
type reloadResponse struct {
	Added     []string `json:"added"`
	Updated   []string `json:"updated"`
	Removed   []string `json:"removed"`
	Unchanged []string `json:"unchanged"`
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusNotImplemented, "reload is not enabled", nil)
		return
	}
	res, err := s.reloader.Reload(r.Context())
	if err != nil {
		s.logger.Error("reload failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, transit.ErrConfigurationInvalid) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "failed to reload configuration", map[string]any{"internal": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{
		Added:     nonNil(res.Added),
		Updated:   nonNil(res.Updated),
		Removed:   nonNil(res.Removed),
		Unchanged: nonNil(res.Unchanged),
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// handleEntities lists all entities, optionally narrowed with ?station=<id>.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	states := s.entities.States(r.URL.Query().Get("station"))
	writeJSON(w, http.StatusOK, entitiesResponse{Entities: states, Count: len(states)})
}

// handleEntity accepts either the unique ID or the entity ID.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.lookupEntity(id)
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found", map[string]any{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history requires a configured store", nil)
		return
	}
	id := chi.URLParam(r, "id")
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000", map[string]any{"limit": v})
			return
		}
		limit = n
	}
	points, err := s.history.History(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, store.ErrUnknownEntity) {
			writeError(w, http.StatusNotFound, "entity not found", map[string]any{"id": id})
			return
		}
		s.logger.Error("history query failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve history", map[string]any{"internal": err.Error()})
		return
	}
	if points == nil {
		points = []store.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, historyResponse{EntityID: id, History: points, Count: len(points)})
}

func (s *Server) lookupEntity(id string) (entity.State, bool) {
	if st, ok := s.entities.State(id); ok {
		return st, true
	}
	for _, st := range s.entities.States("") {
		if st.EntityID == id {
			return st, true
		}
	}
	return entity.State{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

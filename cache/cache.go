package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Snapshot is one station's departures and messages as of FetchedAt.
type Snapshot struct {
	StationID  string
	Departures []transit.Departure
	Messages   []transit.Message
	FetchedAt  time.Time
	// MessagesFetchedAt trails FetchedAt when messages refresh on a slower interval.
	MessagesFetchedAt time.Time
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// StaleAt reports whether more than maxAge has passed since the fetch.
func (s *Snapshot) StaleAt(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && s.Age(now) > maxAge
}

// DepartureCache maps station IDs to their latest snapshot.
type DepartureCache struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// New creates an empty cache.
func New() *DepartureCache {
	return &DepartureCache{snapshots: map[string]*Snapshot{}}
}

// Store replaces the station's snapshot. Slices are copied so later changes by the
// caller cannot reach readers.
func (c *DepartureCache) Store(stationID string, departures []transit.Departure, messages []transit.Message, fetchedAt time.Time) *Snapshot {
	snap := &Snapshot{
		StationID:         stationID,
		Departures:        append([]transit.Departure(nil), departures...),
		Messages:          append([]transit.Message(nil), messages...),
		FetchedAt:         fetchedAt,
		MessagesFetchedAt: fetchedAt,
	}
	c.mu.Lock()
	c.snapshots[stationID] = snap
	c.mu.Unlock()
	return snap
}

// StoreDepartures replaces departures and keeps the messages of the previous snapshot.
func (c *DepartureCache) StoreDepartures(stationID string, departures []transit.Departure, fetchedAt time.Time) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &Snapshot{
		StationID:  stationID,
		Departures: append([]transit.Departure(nil), departures...),
		FetchedAt:  fetchedAt,
	}
	if prev, ok := c.snapshots[stationID]; ok {
		snap.Messages = prev.Messages
		snap.MessagesFetchedAt = prev.MessagesFetchedAt
	}
	c.snapshots[stationID] = snap
	return snap
}

// StoreMessages replaces messages and keeps the departures of the previous snapshot.
// Without a previous snapshot the messages are kept under a zero FetchedAt, so
// departures still read as never fetched.
func (c *DepartureCache) StoreMessages(stationID string, messages []transit.Message, fetchedAt time.Time) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &Snapshot{
		StationID:         stationID,
		Messages:          append([]transit.Message(nil), messages...),
		MessagesFetchedAt: fetchedAt,
	}
	if prev, ok := c.snapshots[stationID]; ok {
		snap.Departures = prev.Departures
		snap.FetchedAt = prev.FetchedAt
	}
	c.snapshots[stationID] = snap
	return snap
}

// Read returns the current snapshot. ok is false until a departure fetch has succeeded.
func (c *DepartureCache) Read(stationID string) (*Snapshot, bool) {
	c.mu.RLock()
	snap, ok := c.snapshots[stationID]
	c.mu.RUnlock()
	if !ok || snap.FetchedAt.IsZero() {
		return nil, false
	}
	return snap, true
}

// Delete forgets a station.
func (c *DepartureCache) Delete(stationID string) {
	c.mu.Lock()
	delete(c.snapshots, stationID)
	c.mu.Unlock()
}

// Stations lists the station IDs that have a snapshot, sorted.
func (c *DepartureCache) Stations() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.snapshots))
	for id := range c.snapshots {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

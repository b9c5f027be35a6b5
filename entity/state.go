package entity

import (
	"reflect"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// State is the externally observable value of one entity.
type State struct {
	UniqueID   string           `json:"unique_id"`
	EntityID   string           `json:"entity_id"`
	Name       string           `json:"name"`
	StationID  string           `json:"station_id"`
	Kind       transit.ViewKind `json:"kind"`
	Value      *int             `json:"value"`
	Unit       string           `json:"unit,omitempty"`
	Icon       string           `json:"icon,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
	Available  bool             `json:"available"`
	Stale      bool             `json:"stale"`
	FetchedAt  time.Time        `json:"fetched_at,omitempty"`

	// Revision increments on every observable change; UpdatedAt is when it happened.
	Revision  uint64    `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sameContent compares everything a consumer can observe except the bookkeeping fields.
func sameContent(a, b State) bool {
	a.Revision, b.Revision = 0, 0
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.FetchedAt, b.FetchedAt = a.FetchedAt.UTC(), b.FetchedAt.UTC()
	return reflect.DeepEqual(a, b)
}

// Health describes the refresh status of a station at publish time.
type Health struct {
	Stale               bool
	ConsecutiveFailures int
	LastError           string
}

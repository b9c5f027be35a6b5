package transit

import (
	"strings"
	"time"
)

// Station is a configured stop. One Station exists per configuration entry.
type Station struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Query string `json:"query,omitempty" yaml:"query,omitempty"`
}

// StationCandidate is a search result returned by a provider.
type StationCandidate struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Place    string   `json:"place,omitempty"`
	Products []string `json:"products,omitempty"`
}

// Label returns "Name, Place" when the place adds information.
func (c StationCandidate) Label() string {
	if c.Place == "" || strings.EqualFold(c.Place, c.Name) {
		return c.Name
	}
	return c.Name + ", " + c.Place
}

// Departure is a single vehicle leaving a station.
type Departure struct {
	Line          string         `json:"line"`
	Direction     string         `json:"direction"`
	Destination   string         `json:"destination"`
	Planned       time.Time      `json:"planned"`
	Realtime      time.Time      `json:"realtime,omitempty"`
	Delay         *time.Duration `json:"delay,omitempty"`
	Cancelled     bool           `json:"cancelled"`
	TransportType string         `json:"transport_type,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	Network       string         `json:"network,omitempty"`
	Occupancy     string         `json:"occupancy,omitempty"`
}

// When returns the real-time departure instant if known, otherwise the planned one.
func (d Departure) When() time.Time {
	if !d.Realtime.IsZero() {
		return d.Realtime
	}
	return d.Planned
}

// IsLate reports whether the real-time estimate is after the planned time.
func (d Departure) IsLate() bool {
	return !d.Realtime.IsZero() && d.Realtime.After(d.Planned)
}

// MinutesUntil returns whole minutes until the departure, never negative.
func (d Departure) MinutesUntil(now time.Time) int {
	diff := d.When().Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(diff / time.Minute)
}

// DelayMinutes returns the delay in minutes, or 0 when no real-time data exists.
func (d Departure) DelayMinutes() int {
	if d.Delay == nil {
		return 0
	}
	return int(*d.Delay / time.Minute)
}

var transportIcons = map[string]string{
	"UBAHN":        "mdi:subway-variant",
	"TRAM":         "mdi:tram",
	"SBAHN":        "mdi:train",
	"BUS":          "mdi:bus",
	"REGIONAL_BUS": "mdi:bus-clock",
	"RUFTAXI":      "mdi:taxi",
}

// DefaultIcon is used when no departure or transport type is known.
const DefaultIcon = "mdi:train-car"

// Icon maps the transport type to a dashboard icon name.
func (d Departure) Icon() string {
	if icon, ok := transportIcons[strings.ToUpper(d.TransportType)]; ok {
		return icon
	}
	return DefaultIcon
}

// Message is a service message published by the provider.
type Message struct {
	Lines     []string  `json:"lines,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type,omitempty"`
	ValidFrom time.Time `json:"valid_from,omitempty"`
	ValidTo   time.Time `json:"valid_to,omitempty"`
}

// ActiveAt reports whether now falls within the validity window. Zero bounds are open.
func (m Message) ActiveAt(now time.Time) bool {
	if !m.ValidFrom.IsZero() && now.Before(m.ValidFrom) {
		return false
	}
	if !m.ValidTo.IsZero() && now.After(m.ValidTo) {
		return false
	}
	return true
}

// Affects reports whether the message concerns any of the given lines. A message
// without lines affects every line.
func (m Message) Affects(lines map[string]struct{}) bool {
	if len(m.Lines) == 0 {
		return true
	}
	for _, l := range m.Lines {
		if _, ok := lines[l]; ok {
			return true
		}
	}
	return false
}

// ViewKind identifies one of the derived views of a station.
type ViewKind string

const (
	ViewNextDeparture ViewKind = "next_departure"
	ViewAllDepartures ViewKind = "all_departures"
	ViewLineDirection ViewKind = "line_direction"
	ViewMessages      ViewKind = "messages"
)

// StationViews are the views every station exposes regardless of its selectors.
var StationViews = []ViewKind{ViewNextDeparture, ViewAllDepartures, ViewMessages}

// ViewID identifies an aggregated view. Selector is only set for ViewLineDirection.
type ViewID struct {
	StationID string
	Kind      ViewKind
	Selector  Selector
}

// Key returns a stable string form used for map keys and logs.
func (v ViewID) Key() string {
	if v.Kind == ViewLineDirection {
		return v.StationID + "/" + string(v.Kind) + "/" + v.Selector.Key()
	}
	return v.StationID + "/" + string(v.Kind)
}

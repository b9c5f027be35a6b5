package provider

import (
	"context"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Provider is a departure-data source.
type Provider interface {
	Search(ctx context.Context, query string) ([]transit.StationCandidate, error)
	FetchDepartures(ctx context.Context, stationID string, limit int) ([]transit.Departure, error)
	FetchMessages(ctx context.Context, stationID string) ([]transit.Message, error)
}

// Line is a line serving a station, as offered by the setup flow.
type Line struct {
	Label         string `json:"label"`
	TransportType string `json:"transport_type"`
	Network       string `json:"network,omitempty"`
}

// LineLister is implemented by providers that can list the lines of a station
// without fetching departures.
type LineLister interface {
	FetchLines(ctx context.Context, stationID string) ([]Line, error)
}

// Observer receives the outcome of every provider call.
type Observer interface {
	ObserveRequest(provider, op string, err error, took time.Duration)
}

// Instrument wraps p so that every call is reported to obs under name.
func Instrument(name string, p Provider, obs Observer) Provider {
	if obs == nil {
		return p
	}
	return &instrumented{name: name, next: p, obs: obs}
}

type instrumented struct {
	name string
	next Provider
	obs  Observer
}

func (i *instrumented) Search(ctx context.Context, query string) ([]transit.StationCandidate, error) {
	start := time.Now()
	out, err := i.next.Search(ctx, query)
	i.obs.ObserveRequest(i.name, "search", err, time.Since(start))
	return out, err
}

func (i *instrumented) FetchDepartures(ctx context.Context, stationID string, limit int) ([]transit.Departure, error) {
	start := time.Now()
	out, err := i.next.FetchDepartures(ctx, stationID, limit)
	i.obs.ObserveRequest(i.name, "departures", err, time.Since(start))
	return out, err
}

func (i *instrumented) FetchMessages(ctx context.Context, stationID string) ([]transit.Message, error) {
	start := time.Now()
	out, err := i.next.FetchMessages(ctx, stationID)
	i.obs.ObserveRequest(i.name, "messages", err, time.Since(start))
	return out, err
}

// FetchLines forwards to the wrapped provider when it lists lines.
func (i *instrumented) FetchLines(ctx context.Context, stationID string) ([]Line, error) {
	ll, ok := i.next.(LineLister)
	if !ok {
		return nil, ErrLinesUnsupported
	}
	start := time.Now()
	out, err := ll.FetchLines(ctx, stationID)
	i.obs.ObserveRequest(i.name, "lines", err, time.Since(start))
	return out, err
}

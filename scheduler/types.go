package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

var (
	// ErrStationExists is returned by Add for an already scheduled station ID.
	ErrStationExists = errors.New("station already scheduled")
	// ErrUnknownStation is returned for operations on a station that is not scheduled.
	ErrUnknownStation = errors.New("unknown station")
)

// StationConfig is the per-station configuration the scheduler acts on.
type StationConfig struct {
	Station   transit.Station
	Selectors []transit.Selector
	Limit     int
	Interval  time.Duration
}

// Validate checks the ranges the setup flow enforces.
func (c StationConfig) Validate() error {
	switch {
	case c.Station.ID == "":
		return fmt.Errorf("%w: station id is empty", transit.ErrConfigurationInvalid)
	case c.Limit < 1 || c.Limit > 20:
		return fmt.Errorf("%w: departure count %d outside 1..20", transit.ErrConfigurationInvalid, c.Limit)
	case c.Interval < time.Minute || c.Interval > time.Hour:
		return fmt.Errorf("%w: scan interval %s outside 1m..60m", transit.ErrConfigurationInvalid, c.Interval)
	}
	return nil
}

// MaxAge is how old the station's snapshot may grow before its entities are
// flagged stale even though no fetch has failed yet.
func (c StationConfig) MaxAge(staleAfterFailures int) time.Duration {
	return time.Duration(staleAfterFailures) * c.Interval
}

// same reports whether c and o configure the station identically.
func (c StationConfig) same(o StationConfig) bool {
	return c.Station == o.Station && c.Limit == o.Limit && c.Interval == o.Interval &&
		slices.Equal(transit.NormalizeSelectors(c.Selectors), transit.NormalizeSelectors(o.Selectors))
}

// ApplyResult lists the station IDs a reconfiguration touched.
type ApplyResult struct {
	Added     []string
	Updated   []string
	Removed   []string
	Unchanged []string
}

// Changed reports whether any station was added, updated or removed.
func (r ApplyResult) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Phase is where a station is in its refresh cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
)

// Status is a point-in-time view of one station's refresh health.
type Status struct {
	StationID           string    `json:"station_id"`
	StationName         string    `json:"station_name"`
	Phase               Phase     `json:"phase"`
	Interval            string    `json:"interval"`
	LastAttempt         time.Time `json:"last_attempt,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorKind       string    `json:"last_error_kind,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Stale               bool      `json:"stale"`
	NextRefresh         time.Time `json:"next_refresh,omitempty"`
	Cycles              uint64    `json:"cycles"`
}

// Options tune the scheduler. Zero values take the defaults.
type Options struct {
	// StaleAfterFailures is the number of consecutive failures after which entities
	// are flagged stale.
	StaleAfterFailures int
	// MessagesInterval is how often service messages are refreshed.
	MessagesInterval time.Duration
	// FetchTimeout bounds one provider call.
	FetchTimeout time.Duration
	// FetchLimit is the minimum number of departures requested per cycle, so that
	// selector filtering still has enough records to fill each list.
	FetchLimit int
	// RenderInterval is how often entities are re-rendered from the cached snapshot
	// between fetches.
	RenderInterval time.Duration
}

// Defaults.
const (
	DefaultStaleAfterFailures = 3
	DefaultMessagesInterval   = 30 * time.Minute
	DefaultFetchTimeout       = 20 * time.Second
	DefaultFetchLimit         = 40
	DefaultRenderInterval     = time.Minute
)

func (o Options) withDefaults() Options {
	if o.StaleAfterFailures <= 0 {
		o.StaleAfterFailures = DefaultStaleAfterFailures
	}
	if o.MessagesInterval <= 0 {
		o.MessagesInterval = DefaultMessagesInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = DefaultFetchLimit
	}
	if o.RenderInterval <= 0 {
		o.RenderInterval = DefaultRenderInterval
	}
	return o
}

// Recorder receives scheduler metrics. *metrics.Metrics implements it.
type Recorder interface {
	Cycle(station, result string, failures int, stale bool)
	Success(station string, at time.Time, departures int)
	Published(station string, changed, bound int)
	Forget(station string)
}

type nopRecorder struct{}

func (nopRecorder) Cycle(string, string, int, bool) {}
func (nopRecorder) Success(string, time.Time, int)  {}
func (nopRecorder) Published(string, int, int)      {}
func (nopRecorder) Forget(string)                   {}

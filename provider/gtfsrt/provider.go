package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Config names the feeds of one agency.
type Config struct {
	StaticURL      string `yaml:"static_url" validate:"required"`
	TripUpdatesURL string `yaml:"trip_updates_url" validate:"required,url"`
	AlertsURL      string `yaml:"alerts_url" validate:"omitempty,url"`
}

// Provider serves departures from GTFS-Realtime feeds.
type Provider struct {
	cfg        Config
	static     *Static
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(p *Provider) { p.httpClient = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Provider) { p.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

// New loads the static feed and returns a ready provider.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	p := newProvider(cfg, nil, opts)
	static, err := LoadStatic(ctx, p.httpClient, cfg.StaticURL)
	if err != nil {
		return nil, err
	}
	p.static = static
	p.logger.Info("loaded GTFS schedule", "stops", len(static.Stops), "routes", len(static.Routes), "trips", len(static.Trips))
	return p, nil
}

// NewWithStatic builds a provider around an already parsed schedule.
func NewWithStatic(cfg Config, static *Static, opts ...Option) *Provider {
	return newProvider(cfg, static, opts)
}

func newProvider(cfg Config, static *Static, opts []Option) *Provider {
	p := &Provider{
		cfg:        cfg,
		static:     static,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("provider", "gtfsrt")
	return p
}

// Search looks stations up in the static schedule.
func (p *Provider) Search(_ context.Context, query string) ([]transit.StationCandidate, error) {
	return p.static.Search(query), nil
}

// FetchDepartures returns the upcoming real-time departures at the station and its
// platforms, earliest first, capped at limit.
func (p *Provider) FetchDepartures(ctx context.Context, stationID string, limit int) ([]transit.Departure, error) {
	fm, err := p.fetchFeed(ctx, "departures", p.cfg.TripUpdatesURL)
	if err != nil {
		return nil, err
	}
	stops := p.static.StopSet(stationID)
	cutoff := p.now().Add(-time.Minute)
	warnings := provider.NewWarnings()

	var out []transit.Departure
	for _, e := range fm.GetEntity() {
		tu := e.GetTripUpdate()
		if tu == nil {
			continue
		}
		for _, stu := range tu.GetStopTimeUpdate() {
			if _, ok := stops[stu.GetStopId()]; !ok {
				continue
			}
			dep, ok := p.departure(tu, stu, warnings)
			if ok && !dep.When().Before(cutoff) {
				out = append(out, dep)
			}
		}
	}
	warnings.Log(p.logger, "departures", stationID)

	sort.SliceStable(out, func(i, j int) bool { return out[i].When().Before(out[j].When()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *Provider) departure(tu *gtfsrtpb.TripUpdate, stu *gtfsrtpb.TripUpdate_StopTimeUpdate, warnings *provider.Warnings) (transit.Departure, bool) {
	tripID := tu.GetTrip().GetTripId()
	trip := p.static.Trips[tripID]
	routeID := tu.GetTrip().GetRouteId()
	if routeID == "" {
		routeID = trip.RouteID
	}
	route, ok := p.static.Routes[routeID]
	if !ok || route.Label() == "" {
		warnings.Add(provider.WarningNoRoute, tripID)
		return transit.Departure{}, false
	}

	event := stu.GetDeparture()
	if event == nil {
		event = stu.GetArrival()
	}
	if event.GetTime() == 0 {
		warnings.Add(provider.WarningNoStopTimeEntry, tripID+"@"+stu.GetStopId())
		return transit.Departure{}, false
	}
	expected := time.Unix(event.GetTime(), 0)

	dep := transit.Departure{
		Line:          route.Label(),
		Direction:     trip.Headsign,
		Destination:   trip.Headsign,
		Planned:       expected,
		TransportType: TransportType(route.Type),
		Platform:      p.static.Stops[stu.GetStopId()].platformCode(),
		Occupancy:     "UNKNOWN",
		Cancelled: tu.GetTrip().GetScheduleRelationship() == gtfsrtpb.TripDescriptor_CANCELED ||
			stu.GetScheduleRelationship() == gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED,
	}
	if dep.Destination == "" {
		warnings.Add(provider.WarningNoDestination, tripID)
	}
	if event.Delay != nil {
		delay := time.Duration(event.GetDelay()) * time.Second
		dep.Delay = &delay
		dep.Planned = expected.Add(-delay)
		dep.Realtime = expected
	}
	return dep, true
}

// FetchMessages returns the alerts that inform the station, one of its platforms, a
// route, or the whole agency.
func (p *Provider) FetchMessages(ctx context.Context, stationID string) ([]transit.Message, error) {
	if p.cfg.AlertsURL == "" {
		return nil, nil
	}
	fm, err := p.fetchFeed(ctx, "messages", p.cfg.AlertsURL)
	if err != nil {
		return nil, err
	}
	stops := p.static.StopSet(stationID)
	warnings := provider.NewWarnings()

	var out []transit.Message
	for _, e := range fm.GetEntity() {
		a := e.GetAlert()
		if a == nil || !p.relevant(a, stops) {
			continue
		}
		msg := transit.Message{
			Title: translatedText(a.GetHeaderText()),
			Body:  translatedText(a.GetDescriptionText()),
			Type:  a.GetEffect().String(),
		}
		if msg.Title == "" && msg.Body == "" {
			warnings.Add(provider.WarningNoMessageText, e.GetId())
			continue
		}
		if periods := a.GetActivePeriod(); len(periods) > 0 {
			if start := periods[0].GetStart(); start > 0 {
				msg.ValidFrom = time.Unix(int64(start), 0)
			}
			if end := periods[0].GetEnd(); end > 0 {
				msg.ValidTo = time.Unix(int64(end), 0)
			}
		}
		for _, ie := range a.GetInformedEntity() {
			if rt, ok := p.static.Routes[ie.GetRouteId()]; ok && rt.Label() != "" {
				msg.Lines = append(msg.Lines, rt.Label())
			}
		}
		out = append(out, msg)
	}
	warnings.Log(p.logger, "messages", stationID)
	return out, nil
}

// relevant drops alerts that only inform stops elsewhere.
func (p *Provider) relevant(a *gtfsrtpb.Alert, stops map[string]struct{}) bool {
	otherStops := false
	for _, ie := range a.GetInformedEntity() {
		sid := ie.GetStopId()
		if sid == "" {
			return true
		}
		if _, ok := stops[sid]; ok {
			return true
		}
		otherStops = true
	}
	return !otherStops
}

func (p *Provider) fetchFeed(ctx context.Context, op, url string) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transit.Unavailable(op, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transit.Unavailable(op, fmt.Errorf("failed to fetch %s: %w", url, err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, transit.Unavailable(op, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transit.Unavailable(op, err)
	}
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, transit.Invalid(op, fmt.Errorf("decode %s: %w", url, err))
	}
	return &fm, nil
}

// translatedText prefers the translation without a language tag and otherwise
// returns the first one.
func translatedText(ts *gtfsrtpb.TranslatedString) string {
	var first string
	for _, tr := range ts.GetTranslation() {
		if tr.GetLanguage() == "" {
			return tr.GetText()
		}
		if first == "" {
			first = tr.GetText()
		}
	}
	return first
}

var _ provider.Provider = (*Provider)(nil)

package aggregator

import (
	"sort"
	"strings"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/cache"
	"github.com/theoremus-urban-solutions/transit-departures/filter"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// ViewSet holds all derived views of one station.
type ViewSet struct {
	StationID string
	HasData   bool
	FetchedAt time.Time
	Limit     int
	Selectors []transit.Selector

	// All is the station-wide filtered list capped at Limit.
	All []transit.Departure
	// PerSelector maps Selector.Key to that selector's capped list.
	PerSelector map[string][]transit.Departure
	Messages    []transit.Message

	// upcoming is the uncapped station-wide list NextAt searches, so departures that
	// have already left do not hide the next one behind the cap.
	upcoming []transit.Departure
}

// Aggregate computes the views for snap. A nil snapshot yields an empty set with
// HasData false.
func Aggregate(snap *cache.Snapshot, selectors []transit.Selector, limit int) ViewSet {
	selectors = transit.NormalizeSelectors(selectors)
	vs := ViewSet{
		Limit:       limit,
		Selectors:   selectors,
		All:         []transit.Departure{},
		PerSelector: make(map[string][]transit.Departure, len(selectors)),
		Messages:    []transit.Message{},
		upcoming:    []transit.Departure{},
	}
	for _, sel := range selectors {
		vs.PerSelector[sel.Key()] = []transit.Departure{}
	}
	if snap == nil {
		return vs
	}
	vs.StationID = snap.StationID
	vs.HasData = true
	vs.FetchedAt = snap.FetchedAt

	vs.upcoming = filter.Filter(snap.Departures, selectors, 0)
	vs.All = filter.Filter(snap.Departures, selectors, limit)
	for key, list := range filter.BySelector(snap.Departures, selectors, limit) {
		vs.PerSelector[key] = list
	}
	vs.Messages = Messages(snap.Messages, selectors)
	return vs
}

// NextAt returns the earliest departure at or after now. ok is false when nothing is
// upcoming, which is a valid empty state rather than an error.
func (v ViewSet) NextAt(now time.Time) (transit.Departure, bool) {
	for _, d := range v.upcoming {
		if !d.When().Before(now.Truncate(time.Minute)) {
			return d, true
		}
	}
	return transit.Departure{}, false
}

// Selector returns the list for sel and whether sel is part of this view set.
func (v ViewSet) Selector(sel transit.Selector) ([]transit.Departure, bool) {
	list, ok := v.PerSelector[sel.Key()]
	return list, ok
}

// MessagesAt returns the messages whose validity window contains now.
func (v ViewSet) MessagesAt(now time.Time) []transit.Message {
	out := make([]transit.Message, 0, len(v.Messages))
	for _, m := range v.Messages {
		if m.ActiveAt(now) {
			out = append(out, m)
		}
	}
	return out
}

// Messages deduplicates by (lines, body) keeping first occurrence order, and narrows
// to messages affecting a selected line (or no line in particular) when selectors are
// configured.
func Messages(in []transit.Message, selectors []transit.Selector) []transit.Message {
	lines := transit.SelectedLines(selectors)
	seen := make(map[string]struct{}, len(in))
	out := make([]transit.Message, 0, len(in))
	for _, m := range in {
		if len(lines) > 0 && !m.Affects(lines) {
			continue
		}
		key := messageKey(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

func messageKey(m transit.Message) string {
	lines := append([]string(nil), m.Lines...)
	sort.Strings(lines)
	body := m.Body
	if body == "" {
		body = m.Title
	}
	return strings.Join(lines, ",") + "\x00" + strings.TrimSpace(body)
}

package entity

import (
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/aggregator"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
	"github.com/theoremus-urban-solutions/transit-departures/utils"
)

const (
	unitMinutes  = "min"
	unitMessages = "messages"
	messageIcon  = "mdi:message-alert"
	listIcon     = "mdi:train-car-multiple"
	titleMaxLen  = 100
)

// Renderer turns a view set into entity states.
type Renderer struct {
	Location    *time.Location
	Attribution string
}

// Render computes the state of b from vs at now.
func (r Renderer) Render(b *Binding, vs aggregator.ViewSet, h Health, now time.Time) State {
	st := State{
		UniqueID:  b.UniqueID,
		EntityID:  b.EntityID,
		Name:      b.Name,
		StationID: b.View.StationID,
		Kind:      b.View.Kind,
		Unit:      unitMinutes,
		Icon:      transit.DefaultIcon,
		Available: vs.HasData,
		Stale:     h.Stale,
		FetchedAt: vs.FetchedAt,
		Attributes: map[string]any{
			"station":              b.StationName,
			"consecutive_failures": h.ConsecutiveFailures,
		},
	}
	if r.Attribution != "" {
		st.Attributes["attribution"] = r.Attribution
	}
	if h.LastError != "" {
		st.Attributes["last_error"] = h.LastError
	}
	if !vs.HasData {
		return st
	}

	switch b.View.Kind {
	case transit.ViewNextDeparture:
		if next, ok := vs.NextAt(now); ok {
			st.Value = intPtr(next.MinutesUntil(now))
			st.Icon = next.Icon()
			for k, v := range r.departure(next, now, true) {
				st.Attributes[k] = v
			}
		}
	case transit.ViewAllDepartures:
		st.Icon = listIcon
		r.list(&st, vs.All, now, true)
		st.Attributes["total_departures"] = len(vs.All)
	case transit.ViewLineDirection:
		list, _ := vs.Selector(b.View.Selector)
		r.list(&st, list, now, false)
		st.Attributes["line"] = b.View.Selector.Line
		st.Attributes["direction"] = b.View.Selector.Direction
		if len(list) > 0 {
			st.Attributes["type"] = list[0].TransportType
		}
	case transit.ViewMessages:
		msgs := vs.MessagesAt(now)
		st.Unit = unitMessages
		st.Icon = messageIcon
		st.Value = intPtr(len(msgs))
		st.Attributes["messages"] = r.messages(msgs)
	}
	return st
}

// list sets value and icon from the first upcoming entry and attaches all entries.
func (r Renderer) list(st *State, list []transit.Departure, now time.Time, withLine bool) {
	rows := make([]map[string]any, 0, len(list))
	for _, d := range list {
		rows = append(rows, r.departure(d, now, withLine))
	}
	st.Attributes["departures"] = rows
	cutoff := now.Truncate(time.Minute)
	for _, d := range list {
		if !d.When().Before(cutoff) {
			st.Value = intPtr(d.MinutesUntil(now))
			st.Icon = d.Icon()
			return
		}
	}
}

func (r Renderer) departure(d transit.Departure, now time.Time, withLine bool) map[string]any {
	row := map[string]any{
		"planned_departure":       utils.Clock(d.Planned, r.Location),
		"realtime_departure":      utils.Clock(d.When(), r.Location),
		"delay":                   d.DelayMinutes(),
		"is_late":                 d.IsLate(),
		"minutes_until_departure": d.MinutesUntil(now),
		"cancelled":               d.Cancelled,
		"platform":                d.Platform,
		"occupancy":               d.Occupancy,
		"network":                 d.Network,
	}
	if withLine {
		row["line"] = d.Line
		row["destination"] = d.Destination
		row["type"] = d.TransportType
	}
	return row
}

func (r Renderer) messages(msgs []transit.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		title := m.Title
		if title == "" {
			title = m.Body
		}
		out = append(out, map[string]any{
			"title":    utils.Truncate(title, titleMaxLen),
			"body":     m.Body,
			"lines":    utils.FormatLines(m.Lines),
			"validity": utils.FormatValidity(m.ValidFrom, m.ValidTo, r.Location),
		})
	}
	return out
}

func intPtr(v int) *int { return &v }

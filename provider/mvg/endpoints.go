package mvg

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
	"github.com/theoremus-urban-solutions/transit-departures/utils"
)

type location struct {
	Type           string   `json:"type"`
	GlobalID       string   `json:"globalId"`
	Name           string   `json:"name"`
	Place          string   `json:"place"`
	TransportTypes []string `json:"transportTypes"`
}

type departure struct {
	PlannedDepartureTime  int64      `json:"plannedDepartureTime"`
	RealtimeDepartureTime int64      `json:"realtimeDepartureTime"`
	Realtime              bool       `json:"realtime"`
	DelayInMinutes        *int       `json:"delayInMinutes"`
	TransportType         string     `json:"transportType"`
	Label                 string     `json:"label"`
	Network               string     `json:"network"`
	Destination           string     `json:"destination"`
	Cancelled             bool       `json:"cancelled"`
	Platform              flexString `json:"platform"`
	Occupancy             string     `json:"occupancy"`
}

type line struct {
	Label         string `json:"label"`
	TransportType string `json:"transportType"`
	Network       string `json:"network"`
}

type message struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	ValidFrom   int64  `json:"validFrom"`
	ValidTo     int64  `json:"validTo"`
	Lines       []line `json:"lines"`
}

// Search returns the stations matching query. Addresses and points of interest the
// API also returns are dropped.
func (c *Client) Search(ctx context.Context, query string) ([]transit.StationCandidate, error) {
	var raw []location
	if err := c.get(ctx, "search", "/locations", url.Values{"query": {query}}, &raw); err != nil {
		return nil, err
	}
	out := make([]transit.StationCandidate, 0, len(raw))
	for _, l := range raw {
		if l.Type != "STATION" || l.GlobalID == "" {
			continue
		}
		out = append(out, transit.StationCandidate{
			ID:       l.GlobalID,
			Name:     l.Name,
			Place:    l.Place,
			Products: l.TransportTypes,
		})
	}
	if len(out) == 0 {
		c.logger.Warn("no stations found", "query", query)
	}
	return out, nil
}

var errNoUsableRecords = errors.New("no usable records in response")

// FetchDepartures returns up to limit departures of the station in API order.
func (c *Client) FetchDepartures(ctx context.Context, stationID string, limit int) ([]transit.Departure, error) {
	q := url.Values{"globalId": {stationID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw []departure
	if err := c.get(ctx, "departures", "/departures", q, &raw); err != nil {
		return nil, err
	}

	warnings := provider.NewWarnings()
	out := make([]transit.Departure, 0, len(raw))
	for i, d := range raw {
		dep, ok := convertDeparture(d, i, warnings)
		if ok {
			out = append(out, dep)
		}
	}
	warnings.Log(c.logger, "departures", stationID)
	if len(raw) > 0 && len(out) == 0 {
		return nil, transit.Invalid("departures", errNoUsableRecords)
	}
	return out, nil
}

func convertDeparture(d departure, i int, warnings *provider.Warnings) (transit.Departure, bool) {
	example := strconv.Itoa(i)
	if d.Label == "" {
		warnings.Add(provider.WarningNoLine, example)
		return transit.Departure{}, false
	}
	example = d.Label + "#" + example
	if d.PlannedDepartureTime <= 0 {
		warnings.Add(provider.WarningNoPlannedTime, example)
		return transit.Departure{}, false
	}
	if d.Destination == "" {
		warnings.Add(provider.WarningNoDestination, example)
	}

	dep := transit.Departure{
		Line:          d.Label,
		Direction:     d.Destination,
		Destination:   d.Destination,
		Planned:       utils.FromUnixMillis(d.PlannedDepartureTime),
		Cancelled:     d.Cancelled,
		TransportType: d.TransportType,
		Platform:      string(d.Platform),
		Network:       d.Network,
		Occupancy:     d.Occupancy,
	}
	if d.Realtime || d.RealtimeDepartureTime > 0 {
		dep.Realtime = utils.FromUnixMillis(d.RealtimeDepartureTime)
	}
	switch {
	case d.DelayInMinutes != nil:
		delay := time.Duration(*d.DelayInMinutes) * time.Minute
		dep.Delay = &delay
	case !dep.Realtime.IsZero():
		delay := dep.Realtime.Sub(dep.Planned)
		dep.Delay = &delay
	}
	if dep.Occupancy == "" {
		dep.Occupancy = "UNKNOWN"
	}
	return dep, true
}

// FetchMessages returns the network-wide service messages. stationID is unused
// because the API has no per-station message endpoint; the aggregator narrows them
// by line.
func (c *Client) FetchMessages(ctx context.Context, stationID string) ([]transit.Message, error) {
	var raw []message
	if err := c.get(ctx, "messages", "/messages", nil, &raw); err != nil {
		return nil, err
	}
	warnings := provider.NewWarnings()
	out := make([]transit.Message, 0, len(raw))
	for i, m := range raw {
		if strings.TrimSpace(m.Title) == "" && strings.TrimSpace(m.Description) == "" {
			warnings.Add(provider.WarningNoMessageText, strconv.Itoa(i))
			continue
		}
		msg := transit.Message{
			Title:     m.Title,
			Body:      m.Description,
			Type:      m.Type,
			ValidFrom: utils.FromUnixMillis(m.ValidFrom),
			ValidTo:   utils.FromUnixMillis(m.ValidTo),
		}
		for _, l := range m.Lines {
			if l.Label != "" {
				msg.Lines = append(msg.Lines, l.Label)
			}
		}
		out = append(out, msg)
	}
	warnings.Log(c.logger, "messages", stationID)
	return out, nil
}

// FetchLines returns the lines serving the station.
func (c *Client) FetchLines(ctx context.Context, stationID string) ([]provider.Line, error) {
	var raw []line
	if err := c.get(ctx, "lines", "/lines/"+url.PathEscape(stationID), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]provider.Line, 0, len(raw))
	for _, l := range raw {
		if l.Label == "" {
			continue
		}
		out = append(out, provider.Line{Label: l.Label, TransportType: l.TransportType, Network: l.Network})
	}
	return out, nil
}

var (
	_ provider.Provider   = (*Client)(nil)
	_ provider.LineLister = (*Client)(nil)
)

package provider

import (
	"context"
	"errors"
	"sort"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// ErrLinesUnsupported is returned by FetchLines wrappers around providers that cannot
// list lines.
var ErrLinesUnsupported = errors.New("provider cannot list lines")

// LinesFromDepartures derives the line list from a departure sample. Setup uses it
// for providers without a dedicated endpoint.
func LinesFromDepartures(deps []transit.Departure) []Line {
	seen := map[string]struct{}{}
	var out []Line
	for _, d := range deps {
		if _, ok := seen[d.Line]; ok || d.Line == "" {
			continue
		}
		seen[d.Line] = struct{}{}
		out = append(out, Line{Label: d.Line, TransportType: d.TransportType, Network: d.Network})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Lines lists the lines of a station, asking the provider directly when it can and
// falling back to a departure sample otherwise.
func Lines(ctx context.Context, p Provider, stationID string, sample int) ([]Line, error) {
	if ll, ok := p.(LineLister); ok {
		lines, err := ll.FetchLines(ctx, stationID)
		if !errors.Is(err, ErrLinesUnsupported) {
			return lines, err
		}
	}
	deps, err := p.FetchDepartures(ctx, stationID, sample)
	if err != nil {
		return nil, err
	}
	return LinesFromDepartures(deps), nil
}

// Directions returns the distinct destinations in a departure sample, optionally
// restricted to the given lines.
func Directions(deps []transit.Departure, lines map[string]struct{}) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range deps {
		if len(lines) > 0 {
			if _, ok := lines[d.Line]; !ok {
				continue
			}
		}
		if _, ok := seen[d.Destination]; ok || d.Destination == "" {
			continue
		}
		seen[d.Destination] = struct{}{}
		out = append(out, d.Destination)
	}
	sort.Strings(out)
	return out
}

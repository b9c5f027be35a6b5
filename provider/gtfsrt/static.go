package gtfsrt

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Stop is a row of stops.txt.
type Stop struct {
	ID       string
	Name     string
	Parent   string
	Location int
}

// Route is a row of routes.txt.
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      int
}

// Label returns the short name, or the long name for feeds without short names.
func (r Route) Label() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

// Trip is a row of trips.txt.
type Trip struct {
	ID        string
	RouteID   string
	Headsign  string
	Direction string
}

// Static is the subset of a GTFS schedule needed to label real-time data.
type Static struct {
	Stops    map[string]Stop
	Routes   map[string]Route
	Trips    map[string]Trip
	children map[string][]string
}

func newStatic() *Static {
	return &Static{
		Stops:    map[string]Stop{},
		Routes:   map[string]Route{},
		Trips:    map[string]Trip{},
		children: map[string][]string{},
	}
}

// LoadStatic reads a GTFS zip from a local path or an http(s) URL.
func LoadStatic(ctx context.Context, client *http.Client, source string) (*Static, error) {
	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, transit.Unavailable("static", fmt.Errorf("failed to fetch %s: %w", source, err))
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, transit.Unavailable("static", fmt.Errorf("HTTP %d from %s", resp.StatusCode, source))
		}
		if data, err = io.ReadAll(resp.Body); err != nil {
			return nil, transit.Unavailable("static", err)
		}
	} else {
		var err error
		if data, err = os.ReadFile(source); err != nil {
			return nil, fmt.Errorf("read GTFS %s: %w", source, err)
		}
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, transit.Invalid("static", fmt.Errorf("open GTFS zip: %w", err))
	}
	return ParseStatic(zr)
}

// ParseStatic consumes stops.txt, routes.txt and trips.txt from an open archive.
func ParseStatic(zr *zip.Reader) (*Static, error) {
	s := newStatic()
	for _, f := range zr.File {
		name := strings.ToLower(f.Name[strings.LastIndex(f.Name, "/")+1:])
		switch name {
		case "stops.txt", "routes.txt", "trips.txt":
			if err := s.consumeCSV(f, name); err != nil {
				return nil, transit.Invalid("static", fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	if len(s.Stops) == 0 {
		return nil, transit.Invalid("static", fmt.Errorf("feed has no stops"))
	}
	for id, st := range s.Stops {
		if st.Parent != "" {
			s.children[st.Parent] = append(s.children[st.Parent], id)
		}
	}
	return s, nil
}

func (s *Static) consumeCSV(f *zip.File, name string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	rec, err := csvr.ReadAll()
	if err != nil {
		return err
	}
	if len(rec) == 0 {
		return nil
	}
	head := rec[0]
	if len(head) > 0 {
		head[0] = strings.TrimPrefix(head[0], "\ufeff")
	}
	idx := func(col string) int {
		for i, h := range head {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				return i
			}
		}
		return -1
	}
	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	switch name {
	case "stops.txt":
		id, nm, parent, loc := idx("stop_id"), idx("stop_name"), idx("parent_station"), idx("location_type")
		for _, row := range rec[1:] {
			st := Stop{ID: field(row, id), Name: field(row, nm), Parent: field(row, parent)}
			if st.ID == "" {
				continue
			}
			st.Location, _ = strconv.Atoi(field(row, loc))
			s.Stops[st.ID] = st
		}
	case "routes.txt":
		id, short, long, typ := idx("route_id"), idx("route_short_name"), idx("route_long_name"), idx("route_type")
		for _, row := range rec[1:] {
			rt := Route{ID: field(row, id), ShortName: field(row, short), LongName: field(row, long)}
			if rt.ID == "" {
				continue
			}
			rt.Type, _ = strconv.Atoi(field(row, typ))
			s.Routes[rt.ID] = rt
		}
	case "trips.txt":
		id, route, hs, dir := idx("trip_id"), idx("route_id"), idx("trip_headsign"), idx("direction_id")
		for _, row := range rec[1:] {
			tr := Trip{ID: field(row, id), RouteID: field(row, route), Headsign: field(row, hs), Direction: field(row, dir)}
			if tr.ID != "" {
				s.Trips[tr.ID] = tr
			}
		}
	}
	return nil
}

// Search returns stations whose name contains query, case-insensitively. Platforms
// are folded into their parent station.
func (s *Static) Search(query string) []transit.StationCandidate {
	q := strings.ToLower(strings.TrimSpace(query))
	seen := map[string]struct{}{}
	var out []transit.StationCandidate
	for _, st := range s.Stops {
		if q == "" || !strings.Contains(strings.ToLower(st.Name), q) {
			continue
		}
		if st.Parent != "" {
			if parent, ok := s.Stops[st.Parent]; ok {
				st = parent
			}
		}
		if _, dup := seen[st.ID]; dup {
			continue
		}
		seen[st.ID] = struct{}{}
		out = append(out, transit.StationCandidate{ID: st.ID, Name: st.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// StopSet returns stationID and all of its child stops.
func (s *Static) StopSet(stationID string) map[string]struct{} {
	set := map[string]struct{}{stationID: {}}
	for _, c := range s.children[stationID] {
		set[c] = struct{}{}
	}
	return set
}

var routeTypes = map[int]string{
	0: "TRAM",
	1: "UBAHN",
	2: "SBAHN",
	3: "BUS",
	4: "FERRY",
	7: "FUNICULAR",
}

// TransportType maps a GTFS route_type to the transport names used for icons.
func TransportType(routeType int) string {
	if t, ok := routeTypes[routeType]; ok {
		return t
	}
	switch {
	case routeType >= 100 && routeType < 200:
		return "SBAHN"
	case routeType >= 400 && routeType < 500:
		return "UBAHN"
	case routeType >= 700 && routeType < 800:
		return "BUS"
	case routeType >= 900 && routeType < 1000:
		return "TRAM"
	}
	return ""
}

// platformCode returns the stop name suffix used as a platform label for child stops.
func (s Stop) platformCode() string {
	if s.Parent == "" {
		return ""
	}
	if i := strings.LastIndexAny(s.ID, ":_-"); i >= 0 && i < len(s.ID)-1 {
		return s.ID[i+1:]
	}
	return ""
}

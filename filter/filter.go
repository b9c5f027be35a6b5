package filter

import (
	"sort"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Filter returns the station-wide view of records. With no selectors every record
// passes; otherwise only records matching some selector do. The result is sorted and
// capped at limit (limit <= 0 means no cap). The input slice is never modified.
func Filter(records []transit.Departure, selectors []transit.Selector, limit int) []transit.Departure {
	out := make([]transit.Departure, 0, len(records))
	for _, d := range records {
		if len(selectors) == 0 || matchesAny(d, selectors) {
			out = append(out, d)
		}
	}
	Sort(out)
	return capAt(out, limit)
}

// ForSelector returns the departures of one selector, truncated to
// min(selector limit, limit).
func ForSelector(records []transit.Departure, sel transit.Selector, limit int) []transit.Departure {
	out := make([]transit.Departure, 0)
	for _, d := range records {
		if sel.Matches(d) {
			out = append(out, d)
		}
	}
	Sort(out)
	return capAt(out, sel.EffectiveLimit(limit))
}

// BySelector applies ForSelector to each selector, keyed by Selector.Key.
func BySelector(records []transit.Departure, selectors []transit.Selector, limit int) map[string][]transit.Departure {
	out := make(map[string][]transit.Departure, len(selectors))
	for _, sel := range selectors {
		out[sel.Key()] = ForSelector(records, sel, limit)
	}
	return out
}

// Sort orders departures by departure time, then line, then destination.
func Sort(records []transit.Departure) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}

// Less is the ordering used by Sort. It compares Departure.When, the real-time
// instant if known and the scheduled one otherwise.
func Less(a, b transit.Departure) bool {
	ta, tb := a.When(), b.When()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Destination < b.Destination
}

func matchesAny(d transit.Departure, selectors []transit.Selector) bool {
	for _, s := range selectors {
		if s.Matches(d) {
			return true
		}
	}
	return false
}

func capAt(records []transit.Departure, limit int) []transit.Departure {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

package transit

import (
	"sort"
	"strings"
)

// Selector is a (line, direction) pair chosen by the user for a station.
// Limit caps this selector's own list; 0 means the station-wide limit applies.
type Selector struct {
	Line      string `json:"line" yaml:"line" validate:"required"`
	Direction string `json:"direction" yaml:"direction" validate:"required"`
	Limit     int    `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0,lte=20"`
}

// Key identifies the selector by content. Matching ignores case, so the key does
// too. Limit is not part of the identity, so changing a limit never recreates the
// entity bound to it.
func (s Selector) Key() string {
	return strings.ToLower(s.Line) + "|" + strings.ToLower(s.Direction)
}

// Matches reports whether the departure belongs to this selector. Providers that only
// report a destination name are matched on it as well.
func (s Selector) Matches(d Departure) bool {
	if !strings.EqualFold(s.Line, d.Line) {
		return false
	}
	return strings.EqualFold(s.Direction, d.Direction) || strings.EqualFold(s.Direction, d.Destination)
}

// EffectiveLimit returns min(s.Limit, limit), treating non-positive values as unset.
func (s Selector) EffectiveLimit(limit int) int {
	switch {
	case s.Limit <= 0:
		return limit
	case limit <= 0:
		return s.Limit
	case s.Limit < limit:
		return s.Limit
	default:
		return limit
	}
}

// NormalizeSelectors drops duplicates by key (the last spelling and limit win) and sorts by line then
// direction so that the same set always yields the same order.
func NormalizeSelectors(in []Selector) []Selector {
	byKey := make(map[string]Selector, len(in))
	for _, s := range in {
		s.Line = strings.TrimSpace(s.Line)
		s.Direction = strings.TrimSpace(s.Direction)
		if s.Line == "" || s.Direction == "" {
			continue
		}
		byKey[s.Key()] = s
	}
	out := make([]Selector, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// CrossSelectors expands separately chosen lines and directions into selectors, the
// way the setup flow collects them. Pairs never observed together in sample are
// skipped when sample is non-empty.
func CrossSelectors(lines, directions []string, sample []Departure) []Selector {
	seen := map[string]struct{}{}
	for _, d := range sample {
		seen[Selector{Line: d.Line, Direction: d.Destination}.Key()] = struct{}{}
		seen[Selector{Line: d.Line, Direction: d.Direction}.Key()] = struct{}{}
	}
	var out []Selector
	for _, l := range lines {
		for _, dir := range directions {
			if len(sample) > 0 {
				if _, ok := seen[Selector{Line: l, Direction: dir}.Key()]; !ok {
					continue
				}
			}
			out = append(out, Selector{Line: l, Direction: dir})
		}
	}
	return NormalizeSelectors(out)
}

// SelectedLines returns the set of lines named by the selectors.
func SelectedLines(selectors []Selector) map[string]struct{} {
	out := make(map[string]struct{}, len(selectors))
	for _, s := range selectors {
		out[s.Line] = struct{}{}
	}
	return out
}

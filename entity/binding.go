package entity

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Namespace seeds the name-based UUIDs of all entities.
var Namespace = uuid.MustParse("5b0f3c8e-2a41-4d5e-9f5a-6c7d8e9fa0b1")

// Binding ties an aggregated view to a published entity.
type Binding struct {
	UniqueID    string
	EntityID    string
	Name        string
	StationName string
	View        transit.ViewID
}

// NewBinding builds the binding for view at the named station.
func NewBinding(stationName string, view transit.ViewID) *Binding {
	return &Binding{
		UniqueID:    UniqueID(view),
		EntityID:    EntityID(stationName, view),
		Name:        DisplayName(stationName, view),
		StationName: stationName,
		View:        view,
	}
}

// UniqueID returns the UUIDv5 of the view identity.
func UniqueID(view transit.ViewID) string {
	return uuid.NewSHA1(Namespace, []byte(view.Key())).String()
}

// EntityID returns a readable identifier such as sensor.marienplatz_u3_moosach.
func EntityID(stationName string, view transit.ViewID) string {
	parts := []string{Slug(stationName)}
	if view.Kind == transit.ViewLineDirection {
		parts = append(parts, Slug(view.Selector.Line), Slug(view.Selector.Direction))
	} else {
		parts = append(parts, string(view.Kind))
	}
	return "sensor." + strings.Join(parts, "_")
}

// DisplayName returns the human-readable entity name.
func DisplayName(stationName string, view transit.ViewID) string {
	switch view.Kind {
	case transit.ViewNextDeparture:
		return stationName + " Next Departure"
	case transit.ViewAllDepartures:
		return stationName + " All Departures"
	case transit.ViewMessages:
		return stationName + " Messages"
	default:
		return stationName + " " + view.Selector.Line + " → " + view.Selector.Direction
	}
}

var germanFolds = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "Ä", "ae", "Ö", "oe", "Ü", "ue", "ß", "ss")

// Slug lowercases s, folds umlauts and accents, and joins words with underscores.
func Slug(s string) string {
	s = germanFolds.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// desiredViews lists the views implied by a selector set.
func desiredViews(stationID string, selectors []transit.Selector) []transit.ViewID {
	views := make([]transit.ViewID, 0, len(transit.StationViews)+len(selectors))
	for _, kind := range transit.StationViews {
		views = append(views, transit.ViewID{StationID: stationID, Kind: kind})
	}
	for _, sel := range transit.NormalizeSelectors(selectors) {
		views = append(views, transit.ViewID{
			StationID: stationID,
			Kind:      transit.ViewLineDirection,
			Selector:  transit.Selector{Line: sel.Line, Direction: sel.Direction},
		})
	}
	return views
}

package transit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderUnavailable covers network and transport failures, including non-200 responses.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderResponseInvalid covers payloads that could not be decoded or lack required fields.
	ErrProviderResponseInvalid = errors.New("provider response invalid")
	// ErrConfigurationInvalid is returned at setup time and never reaches a refresh cycle.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	ErrNoStationsFound = fmt.Errorf("%w: no stations found", ErrConfigurationInvalid)
)

// AmbiguousStationError carries every candidate a query resolved to so the caller can
// ask the user instead of picking one.
type AmbiguousStationError struct {
	Query      string
	Candidates []StationCandidate
}

func (e *AmbiguousStationError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.Label())
	}
	return fmt.Sprintf("%v: %q matches %d stations: %s", ErrConfigurationInvalid, e.Query, len(e.Candidates), strings.Join(names, "; "))
}

func (e *AmbiguousStationError) Unwrap() error { return ErrConfigurationInvalid }

// Unavailable wraps err as ErrProviderUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
}

// Invalid wraps err as ErrProviderResponseInvalid.
func Invalid(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderResponseInvalid, err)
}

// IsProviderError reports whether err belongs to the provider failure classes.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrProviderResponseInvalid)
}

// Classify returns a short label for diagnostics and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrProviderResponseInvalid):
		return "invalid_response"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConfigurationInvalid):
		return "configuration"
	default:
		return "other"
	}
}

// ResolveStation applies the setup rule for a search result: exactly one candidate, or
// one whose name equals the query, resolves; zero is ErrNoStationsFound; several
// become an AmbiguousStationError listing all of them.
func ResolveStation(query string, candidates []StationCandidate) (StationCandidate, error) {
	switch len(candidates) {
	case 0:
		return StationCandidate{}, fmt.Errorf("%w for %q", ErrNoStationsFound, query)
	case 1:
		return candidates[0], nil
	}
	var exact []StationCandidate
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(query)) {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		candidates = exact
	}
	return StationCandidate{}, &AmbiguousStationError{Query: query, Candidates: candidates}
}

package provider

import (
	"log/slog"
	"sort"
	"strings"
)

// Warning kinds reported by adapters for records they skip or patch.
const (
	WarningNoLine          = "no_line"
	WarningNoPlannedTime   = "no_planned_time"
	WarningNoDestination   = "no_destination"
	WarningUnknownStop     = "unknown_stop"
	WarningNoRoute         = "no_route"
	WarningNoMessageText   = "no_message_text"
	WarningNotAStation     = "not_a_station"
	WarningNoStopTimeEntry = "no_stop_time_update"
)

const maxWarningExamples = 3

type warningInfo struct {
	count    int
	examples []string
}

// Warnings collects per-record problems during one fetch so they can be logged as a
// single summary line per kind instead of once per record.
type Warnings struct {
	warnings map[string]*warningInfo
}

// NewWarnings creates an empty collector.
func NewWarnings() *Warnings {
	return &Warnings{warnings: make(map[string]*warningInfo)}
}

// Add records one occurrence of kind with an example identifier.
func (w *Warnings) Add(kind, example string) {
	info := w.warnings[kind]
	if info == nil {
		info = &warningInfo{examples: make([]string, 0, maxWarningExamples)}
		w.warnings[kind] = info
	}
	info.count++
	if len(info.examples) < maxWarningExamples {
		info.examples = append(info.examples, example)
	}
}

// Count returns how many times kind was recorded.
func (w *Warnings) Count(kind string) int {
	if info := w.warnings[kind]; info != nil {
		return info.count
	}
	return 0
}

// Total returns the number of recorded occurrences across all kinds.
func (w *Warnings) Total() int {
	n := 0
	for _, info := range w.warnings {
		n += info.count
	}
	return n
}

// Log writes one warning per kind, in kind order.
func (w *Warnings) Log(logger *slog.Logger, op, stationID string) {
	if len(w.warnings) == 0 {
		return
	}
	kinds := make([]string, 0, len(w.warnings))
	for k := range w.warnings {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		info := w.warnings[k]
		logger.Warn("skipped provider records",
			"op", op,
			"station", stationID,
			"kind", k,
			"count", info.count,
			"examples", strings.Join(info.examples, ", "))
	}
}

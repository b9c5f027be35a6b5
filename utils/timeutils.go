package utils

import (
	"sort"
	"time"
)

// iso8601Millis has a fixed width, so formatted UTC times sort lexically.
const iso8601Millis = "2006-01-02T15:04:05.000Z07:00"

// Iso8601 formats t in RFC3339 UTC with millisecond precision, or "" for the zero
// time.
func Iso8601(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(iso8601Millis)
}

// FromUnixMillis converts a millisecond epoch as the MVG API returns it.
// Non-positive values yield the zero time.
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Clock formats t as HH:MM in loc, or "" for the zero time.
func Clock(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("15:04")
}

// FormatValidity renders a message validity window.
func FormatValidity(from, to time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	const day = "02.01.2006"
	const stamp = "02.01.2006 15:04"
	switch {
	case !from.IsZero() && !to.IsZero():
		f, t := from.In(loc), to.In(loc)
		if f.Format(day) == t.Format(day) {
			return f.Format(stamp) + " - " + t.Format("15:04")
		}
		return f.Format(stamp) + " - " + t.Format(stamp)
	case !from.IsZero():
		return "From " + from.In(loc).Format(stamp)
	case !to.IsZero():
		return "Until " + to.In(loc).Format(stamp)
	default:
		return "No specific time"
	}
}

// Truncate shortens s to max runes, ending in "..." when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max || max < 4 {
		return s
	}
	return string(r[:max-3]) + "..."
}

// FormatLines sorts and deduplicates affected lines; an empty list means all lines.
func FormatLines(lines []string) []string {
	if len(lines) == 0 {
		return []string{"All lines"}
	}
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

package utils

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{name: "zero", input: time.Time{}, expected: ""},
		{name: "summer time", input: time.Date(2024, 7, 1, 8, 5, 0, 0, time.UTC), expected: "10:05"},
		{name: "winter time", input: time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC), expected: "09:05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clock(tt.input, berlin); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFormatValidity(t *testing.T) {
	from := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		from, to time.Time
		expected string
	}{
		{"same day", from, from.Add(2 * time.Hour), "01.05.2024 08:00 - 10:00"},
		{"spans days", from, from.Add(48 * time.Hour), "01.05.2024 08:00 - 03.05.2024 08:00"},
		{"open end", from, time.Time{}, "From 01.05.2024 08:00"},
		{"open start", time.Time{}, from, "Until 01.05.2024 08:00"},
		{"open", time.Time{}, time.Time{}, "No specific time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValidity(tt.from, tt.to, time.UTC); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	long := "Schienenersatzverkehr zwischen Marienplatz und Sendlinger Tor wegen Bauarbeiten"
	got := Truncate(long, 20)
	if len([]rune(got)) != 20 {
		t.Errorf("expected 20 runes, got %d (%q)", len([]rune(got)), got)
	}
	if Truncate("short", 20) != "short" {
		t.Error("short strings must be returned unchanged")
	}
}

func TestFormatLines(t *testing.T) {
	got := FormatLines([]string{"U6", "U3", "U6"})
	if len(got) != 2 || got[0] != "U3" || got[1] != "U6" {
		t.Errorf("unexpected lines %v", got)
	}
	if all := FormatLines(nil); len(all) != 1 || all[0] != "All lines" {
		t.Errorf("unexpected lines %v", all)
	}
}

func TestFromUnixMillis(t *testing.T) {
	if !FromUnixMillis(0).IsZero() {
		t.Error("zero millis should map to the zero time")
	}
	got := FromUnixMillis(1714550400000)
	if Iso8601(got) != "2024-05-01T08:00:00.000Z" {
		t.Errorf("unexpected time %s", Iso8601(got))
	}
	t.Logf("✓ converted millis to %s", Iso8601(got))
}

func TestIso8601SortsLexically(t *testing.T) {
	whole := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	later := whole.Add(500 * time.Millisecond)
	if !(Iso8601(whole) < Iso8601(later)) {
		t.Errorf("%s should sort before %s", Iso8601(whole), Iso8601(later))
	}
	berlin := time.FixedZone("CEST", 2*3600)
	if Iso8601(whole.In(berlin)) != Iso8601(whole) {
		t.Error("zone must not change the formatted instant")
	}
	if Iso8601(time.Time{}) != "" {
		t.Error("zero time should format empty")
	}
}

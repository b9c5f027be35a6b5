package config

import (
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Port        int      `yaml:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// MVGConfig contains MVG API configuration
type MVGConfig struct {
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
}

// GTFSRTConfig contains GTFS static and realtime feed configuration
type GTFSRTConfig struct {
	StaticURL      string `yaml:"static_url,omitempty"`
	TripUpdatesURL string `yaml:"trip_updates_url,omitempty" validate:"omitempty,url"`
	AlertsURL      string `yaml:"alerts_url,omitempty" validate:"omitempty,url"`
}

// ProviderConfig selects and configures the departure data source
type ProviderConfig struct {
	Name      string       `yaml:"name" validate:"omitempty,oneof=mvg gtfsrt"`
	TimeoutMS int          `yaml:"timeout_ms,omitempty" validate:"gte=0"`
	MVG       MVGConfig    `yaml:"mvg,omitempty"`
	GTFSRT    GTFSRTConfig `yaml:"gtfsrt,omitempty"`
}

// SchedulerConfig tunes the refresh loops
type SchedulerConfig struct {
	StaleAfterFailures      int `yaml:"stale_after_failures,omitempty" validate:"gte=0"`
	MessagesIntervalMinutes int `yaml:"messages_interval_minutes,omitempty" validate:"gte=0"`
	FetchTimeoutSeconds     int `yaml:"fetch_timeout_seconds,omitempty" validate:"gte=0"`
	FetchLimit              int `yaml:"fetch_limit,omitempty" validate:"gte=0,lte=200"`
	RenderIntervalSeconds   int `yaml:"render_interval_seconds,omitempty" validate:"gte=0,lte=3600"`
}

// StoreConfig configures the SQLite entity state store. An empty path disables it.
type StoreConfig struct {
	Path          string `yaml:"path,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty" validate:"gte=0"`
}

// Retention returns how long state history is kept.
func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// NATSConfig configures entity state publishing over NATS. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty" validate:"omitempty,excludesall= *>"`
}

// StationConfig is one configured station
type StationConfig struct {
	ID             string             `yaml:"id" validate:"required"`
	Name           string             `yaml:"name" validate:"required"`
	Query          string             `yaml:"query,omitempty"`
	DepartureCount int                `yaml:"departure_count,omitempty" validate:"omitempty,min=1,max=20"`
	ScanInterval   int                `yaml:"scan_interval,omitempty" validate:"omitempty,min=1,max=60"` // minutes
	Selectors      []transit.Selector `yaml:"selectors,omitempty" validate:"dive"`
}

// Station returns the provider-neutral station record.
func (s StationConfig) Station() transit.Station {
	return transit.Station{ID: s.ID, Name: s.Name, Query: s.Query}
}

// Interval returns the scan interval as a duration.
func (s StationConfig) Interval() time.Duration {
	return time.Duration(s.ScanInterval) * time.Minute
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	NATS      NATSConfig      `yaml:"nats,omitempty"`
	Timezone  string          `yaml:"timezone,omitempty"`
	LogLevel  string          `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Stations  []StationConfig `yaml:"stations" validate:"dive"`
}

// Location resolves Timezone, used to render clock times.
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Station returns the configured station with the given ID.
func (c *AppConfig) Station(id string) (StationConfig, bool) {
	for _, s := range c.Stations {
		if s.ID == id {
			return s, true
		}
	}
	return StationConfig{}, false
}

// UpsertStation replaces the station with the same ID or appends it.
func (c *AppConfig) UpsertStation(s StationConfig) {
	s.Selectors = transit.NormalizeSelectors(s.Selectors)
	for i := range c.Stations {
		if c.Stations[i].ID == s.ID {
			c.Stations[i] = s
			return
		}
	}
	c.Stations = append(c.Stations, s)
}

// RemoveStation deletes the station with the given ID and reports whether it existed.
func (c *AppConfig) RemoveStation(id string) bool {
	for i := range c.Stations {
		if c.Stations[i].ID == id {
			c.Stations = append(c.Stations[:i], c.Stations[i+1:]...)
			return true
		}
	}
	return false
}

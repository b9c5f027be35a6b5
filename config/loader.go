package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

// Defaults applied after validation.
const (
	DefaultPort             = 16181
	DefaultProvider         = "mvg"
	DefaultTimezone         = "Europe/Berlin"
	DefaultLogLevel         = "info"
	DefaultDepartureCount   = 10
	DefaultScanInterval     = 5
	DefaultNATSPrefix       = "departures"
	DefaultProviderTimeout  = 10000
	DefaultMessagesInterval = 30
	DefaultRetentionDays    = 7
)

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{"config.yml", "config.yaml", "/etc/departures/config.yml"}

// Environment variables that override file settings.
const (
	EnvPort      = "DEPARTURES_PORT"
	EnvProvider  = "DEPARTURES_PROVIDER"
	EnvStorePath = "DEPARTURES_STORE_PATH"
	EnvNATSURL   = "DEPARTURES_NATS_URL"
	EnvLogLevel  = "DEPARTURES_LOG_LEVEL"
)

var validate = validator.New()

// LoadEnv loads .env and then .env.local from dir into the environment. Missing
// files are ignored; .env.local overrides values already set.
func LoadEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Overload(filepath.Join(dir, ".env.local"))
}

// LoadAppConfig loads, overrides, validates and completes the configuration. With an
// empty path the DefaultPaths are tried; if none exists an empty configuration is
// used so the service can start and be set up interactively.
func LoadAppConfig(path string) (*AppConfig, string, error) {
	data, used, err := read(path)
	if err != nil {
		return nil, "", err
	}
	var cfg AppConfig
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, used, fmt.Errorf("%w: parse %s: %w", transit.ErrConfigurationInvalid, used, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, used, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, used, err
	}
	applyDefaults(&cfg)
	return &cfg, used, nil
}

func read(path string) ([]byte, string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, path, fmt.Errorf("read config %s: %w", path, err)
		}
		return data, path, nil
	}
	for _, p := range DefaultPaths {
		data, err := os.ReadFile(p)
		if err == nil {
			return data, p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, p, fmt.Errorf("read config %s: %w", p, err)
		}
	}
	return nil, DefaultPaths[0], nil
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", transit.ErrConfigurationInvalid, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvProvider); v != "" {
		cfg.Provider.Name = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvStorePath); ok {
		cfg.Store.Path = v
	}
	if v, ok := os.LookupEnv(EnvNATSURL); ok {
		cfg.NATS.URL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", transit.ErrConfigurationInvalid, err)
	}
	if cfg.Provider.Name == "gtfsrt" && (cfg.Provider.GTFSRT.StaticURL == "" || cfg.Provider.GTFSRT.TripUpdatesURL == "") {
		return fmt.Errorf("%w: gtfsrt provider needs static_url and trip_updates_url", transit.ErrConfigurationInvalid)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %w", transit.ErrConfigurationInvalid, cfg.Timezone, err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Stations))
	for _, s := range cfg.Stations {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: station %s configured twice", transit.ErrConfigurationInvalid, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = DefaultProvider
	}
	if cfg.Provider.TimeoutMS == 0 {
		cfg.Provider.TimeoutMS = DefaultProviderTimeout
	}
	if cfg.Scheduler.MessagesIntervalMinutes == 0 {
		cfg.Scheduler.MessagesIntervalMinutes = DefaultMessagesInterval
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = DefaultRetentionDays
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultNATSPrefix
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	for i := range cfg.Stations {
		s := &cfg.Stations[i]
		if s.DepartureCount == 0 {
			s.DepartureCount = DefaultDepartureCount
		}
		if s.ScanInterval == 0 {
			s.ScanInterval = DefaultScanInterval
		}
		s.Selectors = transit.NormalizeSelectors(s.Selectors)
	}
}

// Save validates cfg and writes it to path, replacing the file atomically.
func Save(path string, cfg *AppConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yml")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

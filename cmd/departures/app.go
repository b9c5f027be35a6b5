package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/theoremus-urban-solutions/transit-departures/config"
	"github.com/theoremus-urban-solutions/transit-departures/internal"
	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/provider/gtfsrt"
	"github.com/theoremus-urban-solutions/transit-departures/provider/mvg"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
)

// app is what every subcommand starts from.
type app struct {
	cfg     *config.AppConfig
	cfgPath string
	logger  *slog.Logger
}

// loadApp reads .env files and the configuration and installs the logger.
// Interactive commands log at warn unless --log-level says otherwise.
func loadApp(interactive bool) (*app, error) {
	config.LoadEnv(".")
	cfg, used, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if interactive {
		level = "warn"
	}
	if logLevel != "" {
		level = logLevel
	}
	return &app{cfg: cfg, cfgPath: used, logger: internal.InitLogging(level)}, nil
}

// newProvider builds the configured provider and returns the attribution line shown
// on its entities.
func newProvider(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (provider.Provider, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.Provider.TimeoutMS) * time.Millisecond}

	switch cfg.Provider.Name {
	case "gtfsrt":
		p, err := gtfsrt.New(ctx, gtfsrt.Config{
			StaticURL:      cfg.Provider.GTFSRT.StaticURL,
			TripUpdatesURL: cfg.Provider.GTFSRT.TripUpdatesURL,
			AlertsURL:      cfg.Provider.GTFSRT.AlertsURL,
		}, gtfsrt.WithHTTPClient(httpClient), gtfsrt.WithLogger(logger))
		if err != nil {
			return nil, "", fmt.Errorf("gtfsrt provider: %w", err)
		}
		return p, "", nil
	case "mvg", "":
		opts := []mvg.Option{mvg.WithHTTPClient(httpClient), mvg.WithLogger(logger)}
		if cfg.Provider.MVG.BaseURL != "" {
			opts = append(opts, mvg.WithBaseURL(cfg.Provider.MVG.BaseURL))
		}
		return mvg.NewClient(opts...), mvg.Attribution, nil
	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func schedulerOptions(cfg config.SchedulerConfig) scheduler.Options {
	return scheduler.Options{
		StaleAfterFailures: cfg.StaleAfterFailures,
		MessagesInterval:   time.Duration(cfg.MessagesIntervalMinutes) * time.Minute,
		FetchTimeout:       time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		FetchLimit:         cfg.FetchLimit,
		RenderInterval:     time.Duration(cfg.RenderIntervalSeconds) * time.Second,
	}
}

func stationConfigs(cfg *config.AppConfig) []scheduler.StationConfig {
	out := make([]scheduler.StationConfig, 0, len(cfg.Stations))
	for _, s := range cfg.Stations {
		out = append(out, stationConfig(s))
	}
	return out
}

func stationConfig(s config.StationConfig) scheduler.StationConfig {
	return scheduler.StationConfig{
		Station:   s.Station(),
		Selectors: s.Selectors,
		Limit:     s.DepartureCount,
		Interval:  s.Interval(),
	}
}

// resolveConfigured returns the configured station whose ID or name matches arg.
func resolveConfigured(cfg *config.AppConfig, arg string) (config.StationConfig, bool) {
	if s, ok := cfg.Station(arg); ok {
		return s, true
	}
	for _, s := range cfg.Stations {
		if s.Name == arg {
			return s, true
		}
	}
	return config.StationConfig{}, false
}

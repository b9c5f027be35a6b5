package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/config"
	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

var setupCmd = &cobra.Command{
	Use:   "setup [query]",
	Short: "Add or edit a station interactively",
	Long: `setup searches the provider for a station, lets you pick the lines and
directions to follow, and writes the station to the configuration file. Running it
again for a configured station edits its options.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		p, _, err := newProvider(cmd.Context(), a.cfg, a.logger)
		if err != nil {
			return err
		}
		s, err := runSetup(cmd.Context(), a.cfg, p, strings.Join(args, " "))
		if err != nil {
			return err
		}
		a.cfg.UpsertStation(s)
		if err := config.Save(a.cfgPath, a.cfg); err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("✓ Saved %s (%s) with %d selectors to %s", s.Name, s.ID, len(s.Selectors), a.cfgPath)))
		announceReload(cmd.Context(), a.cfg.Server.Port)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(ctx context.Context, cfg *config.AppConfig, p provider.Provider, query string) (config.StationConfig, error) {
	station, err := chooseStation(ctx, p, query)
	if err != nil {
		return config.StationConfig{}, err
	}
	existing, editing := cfg.Station(station.ID)

	var (
		lines  []provider.Line
		sample []transit.Departure
	)
	_ = spinner.New().
		Title(fmt.Sprintf("Loading lines for %s...", station.Label())).
		Action(func() {
			lines, err = provider.Lines(ctx, p, station.ID, scheduler.DefaultFetchLimit)
			if err != nil {
				return
			}
			sample, err = p.FetchDepartures(ctx, station.ID, scheduler.DefaultFetchLimit)
		}).
		Run()
	if err != nil {
		return config.StationConfig{}, err
	}
	if len(lines) == 0 {
		return config.StationConfig{}, fmt.Errorf("%w: no lines serve %s right now", transit.ErrConfigurationInvalid, station.Label())
	}

	var chosenLines []string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Which lines should be tracked?").
			Options(lineOptions(lines, existing.Selectors, editing)...).
			Validate(nonEmpty("line")).
			Value(&chosenLines),
	)).WithTheme(theme()).Run(); err != nil {
		return config.StationConfig{}, err
	}

	directions := provider.Directions(sample, setOf(chosenLines))
	var chosenDirections []string
	if len(directions) > 0 {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Which directions?").
				Options(directionOptions(directions, existing.Selectors, editing)...).
				Validate(nonEmpty("direction")).
				Value(&chosenDirections),
		)).WithTheme(theme()).Run(); err != nil {
			return config.StationConfig{}, err
		}
	}

	count := strconv.Itoa(config.DefaultDepartureCount)
	interval := strconv.Itoa(config.DefaultScanInterval)
	name := station.Name
	if editing {
		count = strconv.Itoa(existing.DepartureCount)
		interval = strconv.Itoa(existing.ScanInterval)
		name = existing.Name
	}
	if err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Entity name prefix").Value(&name).Validate(nonBlank),
		huh.NewInput().Title("Departures per list (1-20)").Value(&count).Validate(intRange(1, 20)),
		huh.NewInput().Title("Refresh interval in minutes (1-60)").Value(&interval).Validate(intRange(1, 60)),
	)).WithTheme(theme()).Run(); err != nil {
		return config.StationConfig{}, err
	}

	n, _ := strconv.Atoi(strings.TrimSpace(count))
	m, _ := strconv.Atoi(strings.TrimSpace(interval))
	return buildStation(station, query, strings.TrimSpace(name), chosenLines, chosenDirections, sample, n, m)
}

// chooseStation resolves query, asking the user when several stations match.
func chooseStation(ctx context.Context, p provider.Provider, query string) (transit.StationCandidate, error) {
	if strings.TrimSpace(query) == "" {
		if err := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Search for a station").Value(&query).Validate(nonBlank),
		)).WithTheme(theme()).Run(); err != nil {
			return transit.StationCandidate{}, err
		}
	}

	var (
		candidates []transit.StationCandidate
		err        error
	)
	_ = spinner.New().
		Title(fmt.Sprintf("Searching stations for %q...", query)).
		Action(func() {
			candidates, err = p.Search(ctx, query)
		}).
		Run()
	if err != nil {
		return transit.StationCandidate{}, err
	}

	station, err := transit.ResolveStation(query, candidates)
	var ambiguous *transit.AmbiguousStationError
	if !errors.As(err, &ambiguous) {
		return station, err
	}

	options := make([]huh.Option[string], 0, len(ambiguous.Candidates))
	for _, c := range ambiguous.Candidates {
		options = append(options, huh.NewOption(c.Label(), c.ID))
	}
	var id string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("%d stations match %q", len(options), query)).
			Options(options...).
			Value(&id),
	)).WithTheme(theme()).Run(); err != nil {
		return transit.StationCandidate{}, err
	}
	for _, c := range ambiguous.Candidates {
		if c.ID == id {
			return c, nil
		}
	}
	return transit.StationCandidate{}, fmt.Errorf("%w: no station selected", transit.ErrConfigurationInvalid)
}

// lineOptions preselects every line for a new station and the configured ones when
// editing.
func lineOptions(lines []provider.Line, selectors []transit.Selector, editing bool) []huh.Option[string] {
	chosen := transit.SelectedLines(selectors)
	out := make([]huh.Option[string], 0, len(lines))
	for _, l := range lines {
		label := l.Label
		if l.TransportType != "" {
			label += " (" + l.TransportType + ")"
		}
		_, ok := chosen[l.Label]
		out = append(out, huh.NewOption(label, l.Label).Selected(!editing || ok))
	}
	return out
}

func directionOptions(directions []string, selectors []transit.Selector, editing bool) []huh.Option[string] {
	chosen := map[string]struct{}{}
	for _, s := range selectors {
		chosen[s.Direction] = struct{}{}
	}
	out := make([]huh.Option[string], 0, len(directions))
	for _, d := range directions {
		_, ok := chosen[d]
		out = append(out, huh.NewOption(d, d).Selected(!editing || ok))
	}
	return out
}

// buildStation turns the answers into a station entry. Line and direction pairs that
// never occur together in the sample are dropped.
func buildStation(c transit.StationCandidate, query, name string, lines, directions []string, sample []transit.Departure, count, interval int) (config.StationConfig, error) {
	if name == "" {
		name = c.Name
	}
	s := config.StationConfig{
		ID:             c.ID,
		Name:           name,
		Query:          query,
		DepartureCount: count,
		ScanInterval:   interval,
		Selectors:      transit.CrossSelectors(lines, directions, sample),
	}
	if len(lines) > 0 && len(s.Selectors) == 0 {
		return s, fmt.Errorf("%w: none of the chosen lines runs in the chosen directions", transit.ErrConfigurationInvalid)
	}
	return s, stationConfig(s).Validate()
}

func setOf(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func nonEmpty(what string) func([]string) error {
	return func(v []string) error {
		if len(v) == 0 {
			return fmt.Errorf("select at least one %s", what)
		}
		return nil
	}
}

func nonBlank(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be empty")
	}
	return nil
}

func intRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < lo || n > hi {
			return fmt.Errorf("enter a number from %d to %d", lo, hi)
		}
		return nil
	}
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/aggregator"
	"github.com/theoremus-urban-solutions/transit-departures/cache"
	"github.com/theoremus-urban-solutions/transit-departures/config"
	"github.com/theoremus-urban-solutions/transit-departures/provider"
	"github.com/theoremus-urban-solutions/transit-departures/scheduler"
	"github.com/theoremus-urban-solutions/transit-departures/transit"
	"github.com/theoremus-urban-solutions/transit-departures/utils"
)

var showCmd = &cobra.Command{
	Use:   "show <station>",
	Short: "Fetch and print the departures of a station once",
	Long: `show fetches departures and messages for a configured station (by ID or name)
and prints them through the same filter the service uses. Any other argument is
treated as a provider station ID; --line and --direction then select what to show.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		sc, err := showTarget(a.cfg, args[0], cmd)
		if err != nil {
			return err
		}
		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}
		p, _, err := newProvider(cmd.Context(), a.cfg, a.logger)
		if err != nil {
			return err
		}

		var vs aggregator.ViewSet
		_ = spinner.New().
			Title(fmt.Sprintf("Fetching departures for %s...", sc.Station.Name)).
			Action(func() {
				vs, err = fetchViews(cmd.Context(), p, sc, time.Now())
			}).
			Run()
		if err != nil {
			return err
		}
		fmt.Println(formatViews(sc, vs, time.Now(), loc))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringSliceP("line", "l", nil, "lines to show (with --direction)")
	showCmd.Flags().StringSliceP("direction", "d", nil, "directions to show (with --line)")
	showCmd.Flags().IntP("limit", "n", config.DefaultDepartureCount, "number of departures")
}

func showTarget(cfg *config.AppConfig, arg string, cmd *cobra.Command) (scheduler.StationConfig, error) {
	lines, _ := cmd.Flags().GetStringSlice("line")
	directions, _ := cmd.Flags().GetStringSlice("direction")
	limit, _ := cmd.Flags().GetInt("limit")

	sc := scheduler.StationConfig{
		Station:  transit.Station{ID: arg, Name: arg},
		Limit:    limit,
		Interval: time.Minute,
	}
	if s, ok := resolveConfigured(cfg, arg); ok {
		sc = stationConfig(s)
		if !cmd.Flags().Changed("limit") {
			limit = sc.Limit
		}
		sc.Limit = limit
	}
	if len(lines) > 0 || len(directions) > 0 {
		if len(lines) == 0 || len(directions) == 0 {
			return sc, fmt.Errorf("--line and --direction must be given together")
		}
		sc.Selectors = transit.CrossSelectors(lines, directions, nil)
	}
	return sc, sc.Validate()
}

// fetchViews runs one refresh cycle outside the scheduler.
func fetchViews(ctx context.Context, p provider.Provider, sc scheduler.StationConfig, now time.Time) (aggregator.ViewSet, error) {
	deps, err := p.FetchDepartures(ctx, sc.Station.ID, max(sc.Limit, scheduler.DefaultFetchLimit))
	if err != nil {
		return aggregator.ViewSet{}, err
	}
	msgs, err := p.FetchMessages(ctx, sc.Station.ID)
	if err != nil {
		msgs = nil
	}
	c := cache.New()
	snap := c.Store(sc.Station.ID, deps, msgs, now)
	return aggregator.Aggregate(snap, sc.Selectors, sc.Limit), nil
}

func formatViews(sc scheduler.StationConfig, vs aggregator.ViewSet, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Departures from " + sc.Station.Name))
	b.WriteString("\n")

	if len(vs.All) == 0 {
		b.WriteString(mutedStyle.Render("No upcoming departures."))
		b.WriteString("\n")
	} else {
		b.WriteString(departureTable(vs.All, now, loc))
		b.WriteString("\n")
	}

	if next, ok := vs.NextAt(now); ok {
		b.WriteString(fmt.Sprintf("Next: %s to %s in %s\n",
			lineStyle.Render(next.Line), next.Destination, timeStyle.Render(fmt.Sprintf("%d min", next.MinutesUntil(now)))))
	}

	if msgs := vs.MessagesAt(now); len(msgs) > 0 {
		b.WriteString(titleStyle.Render(fmt.Sprintf("Messages (%d)", len(msgs))))
		b.WriteString("\n")
		for _, m := range msgs {
			title := m.Title
			if title == "" {
				title = m.Body
			}
			b.WriteString("  • ")
			if len(m.Lines) > 0 {
				b.WriteString(lineStyle.Render(strings.Join(utils.FormatLines(m.Lines), ", ")) + " ")
			}
			b.WriteString(utils.Truncate(title, 100))
			b.WriteString(" ")
			b.WriteString(mutedStyle.Render(utils.FormatValidity(m.ValidFrom, m.ValidTo, loc)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func departureTable(deps []transit.Departure, now time.Time, loc *time.Location) string {
	rows := make([][]string, 0, len(deps))
	for _, d := range deps {
		delay := ""
		if n := d.DelayMinutes(); n > 0 {
			delay = "+" + strconv.Itoa(n)
		}
		status := ""
		if d.Cancelled {
			status = "cancelled"
		}
		rows = append(rows, []string{
			d.Line,
			d.Destination,
			utils.Clock(d.Planned, loc),
			delay,
			strconv.Itoa(d.MinutesUntil(now)),
			d.Platform,
			status,
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("LINE", "DESTINATION", "PLANNED", "DELAY", "MIN", "PLATFORM", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return style.Inherit(accentStyle).Bold(true)
			case col == 0:
				return style.Inherit(lineStyle)
			case col == 3 || col == 6:
				return style.Inherit(delayStyle)
			case col == 4:
				return style.Inherit(timeStyle)
			}
			return style
		}).
		String()
}

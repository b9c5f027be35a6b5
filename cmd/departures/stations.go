package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/config"
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List configured stations and their selectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		fmt.Println(formatStations(a.cfg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stationsCmd)
}

func formatStations(cfg *config.AppConfig) string {
	if len(cfg.Stations) == 0 {
		return mutedStyle.Render("No stations configured. Run 'departures setup' to add one.")
	}
	var b strings.Builder
	for _, s := range cfg.Stations {
		b.WriteString(lineStyle.Render(s.Name))
		fmt.Fprintf(&b, " %s  %s\n",
			mutedStyle.Render(s.ID),
			accentStyle.Render(fmt.Sprintf("%d departures every %d min", s.DepartureCount, s.ScanInterval)))
		if len(s.Selectors) == 0 {
			b.WriteString("  • all lines and directions\n")
		}
		for _, sel := range s.Selectors {
			fmt.Fprintf(&b, "  • %s → %s", sel.Line, sel.Direction)
			if sel.Limit > 0 {
				fmt.Fprintf(&b, " %s", mutedStyle.Render(fmt.Sprintf("(max %d)", sel.Limit)))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

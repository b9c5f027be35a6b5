package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the provider for stations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		p, _, err := newProvider(cmd.Context(), a.cfg, a.logger)
		if err != nil {
			return err
		}

		var candidates []transit.StationCandidate
		_ = spinner.New().
			Title(fmt.Sprintf("Searching stations for %q...", query)).
			Action(func() {
				candidates, err = p.Search(cmd.Context(), query)
			}).
			Run()
		if err != nil {
			return err
		}

		fmt.Println(formatCandidates(query, candidates))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

// formatCandidates lists search results and marks the one setup would pick.
func formatCandidates(query string, candidates []transit.StationCandidate) string {
	if len(candidates) == 0 {
		return errorStyle.Render(fmt.Sprintf("No stations found for %q.", query))
	}
	resolved, err := transit.ResolveStation(query, candidates)
	var ambiguous *transit.AmbiguousStationError
	if err != nil && !errors.As(err, &ambiguous) {
		return errorStyle.Render(err.Error())
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Stations matching %q", query)))
	b.WriteString("\n")
	for _, c := range candidates {
		marker := "  "
		if err == nil && c.ID == resolved.ID {
			marker = okStyle.Render("✓ ")
		}
		b.WriteString(marker)
		b.WriteString(lineStyle.Render(c.Label()))
		b.WriteString(" ")
		b.WriteString(mutedStyle.Render(c.ID))
		if len(c.Products) > 0 {
			b.WriteString(" ")
			b.WriteString(accentStyle.Render(strings.Join(c.Products, ", ")))
		}
		b.WriteString("\n")
	}
	if ambiguous != nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d stations match; pick one with 'departures setup'.", len(ambiguous.Candidates))))
		b.WriteString("\n")
	}
	return b.String()
}

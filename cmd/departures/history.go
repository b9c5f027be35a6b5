package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/transit-departures/config"
	"github.com/theoremus-urban-solutions/transit-departures/store"
)

var historyCmd = &cobra.Command{
	Use:   "history <entity>",
	Short: "Print the recorded state changes of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		if a.cfg.Store.Path == "" {
			return fmt.Errorf("no store configured; set store.path or %s", config.EnvStorePath)
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := store.Connect(cmd.Context(), a.cfg.Store.Path, a.logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		points, err := db.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		loc, err := a.cfg.Location()
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("History of " + args[0]))
		fmt.Println(formatHistory(points, loc))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of changes to show")
}

func formatHistory(points []store.HistoryPoint, loc *time.Location) string {
	if len(points) == 0 {
		return mutedStyle.Render("No changes recorded.")
	}
	var b strings.Builder
	for _, p := range points {
		value := "-"
		if p.Value != nil {
			value = strconv.Itoa(*p.Value)
		}
		flags := ""
		if !p.Available {
			flags += " unavailable"
		}
		if p.Stale {
			flags += " stale"
		}
		fmt.Fprintf(&b, "%s  %s  %s%s\n",
			mutedStyle.Render(fmt.Sprintf("#%d", p.Revision)),
			timeStyle.Render(p.At.In(loc).Format("2006-01-02 15:04:05")),
			lineStyle.Render(value),
			delayStyle.Render(flags))
	}
	return strings.TrimRight(b.String(), "\n")
}

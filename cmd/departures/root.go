package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "departures",
	Short: "Live public transport departures as dashboard entities",
	Long: `departures polls a transit provider for the stations you configure, filters the
departures by the lines and directions you care about, and publishes them as
entities over HTTP, SQLite and NATS.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: config.yml, config.yaml or /etc/departures/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn or error")
}

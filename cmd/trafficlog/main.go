// Package main provides the entry point for the trafficlog CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trafficlog/config"
	"trafficlog/logger"
)

var (
	configPath string
	cfg        = config.NewConfig()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trafficlog",
		Short: "Keep a durable daily history of GitHub repository traffic",
		Long: `trafficlog snapshots stars, forks, clones and views for a set of
repositories once a day and merges the rolling upstream window into a
permanent per-repository history.

Commands:
  run       Collect today's snapshots and emit the run report
  migrate   Apply database migrations
  serve     Serve stored history and reports over HTTP
  report    Inspect stored run reports
  history   Print a repository's stored series`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := cfg.Load(configPath); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return logger.Initialize(cfg.LogLevel)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".env", "path to an env-style config file")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newHistoryCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trafficlog/db"
	"trafficlog/models"
	"trafficlog/report"
	"trafficlog/service"
)

func newRunCommand() *cobra.Command {
	var (
		date  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect snapshots and merge them into history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			var runDate time.Time
			if date != "" {
				parsed, err := models.ParseDay(date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				runDate = parsed
			}

			svc, err := service.NewService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			svc.HandleSignals()

			runReport, err := svc.RunOnce(runDate, force)
			if runReport != nil {
				report.Render(cmd.OutOrStdout(), runReport)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "run date as YYYY-MM-DD; only today (UTC) is accepted")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing report for the run date")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			database, err := db.New(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Migrate()
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored history and run reports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, err := service.NewService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.Serve()
		},
	}
}

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect stored run reports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <YYYY-MM-DD>",
		Short: "Print the digest of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDate, err := models.ParseDay(args[0])
			if err != nil {
				return err
			}

			database, err := db.New(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			runReport, err := database.GetReport(cmd.Context(), runDate)
			if err != nil {
				return err
			}
			report.Render(cmd.OutOrStdout(), runReport)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the dates of stored run reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			database, err := db.New(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			dates, err := database.ListReportDates(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), models.FormatDay(d))
			}
			return nil
		},
	})

	return cmd
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <owner/name>",
		Short: "Print a repository's stored daily series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID := args[0]
			if !models.ValidEntityID(entityID) {
				return fmt.Errorf("invalid repository %q: expected owner/name", entityID)
			}

			database, err := db.New(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			entries, err := database.ReadSeries(cmd.Context(), entityID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no history stored for %s\n", entityID)
				return nil
			}
			report.RenderHistory(cmd.OutOrStdout(), entityID, entries)
			return nil
		},
	}
}

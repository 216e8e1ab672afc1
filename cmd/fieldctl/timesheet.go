package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	migrations "github.com/garnizeh/fieldops/db"
	"github.com/garnizeh/fieldops/internal/db"
	"github.com/garnizeh/fieldops/internal/report"
	"github.com/garnizeh/fieldops/internal/repository/sqlite"
)

func newTimesheetCmd(opts *options) *cobra.Command {
	var (
		workOrderID string
		out         string
		tz          string
	)
	cmd := &cobra.Command{
		Use:   "timesheet",
		Short: "Export recorded time entries to an Excel workbook",
		Long: `timesheet reads time entries from the local agent database and writes
them to an .xlsx workbook with work and travel totals. No backend token is
needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("invalid time zone %q: %w", tz, err)
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
			database, err := db.New(ctx, cfg.DatabasePath, quiet)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := db.Migrate(ctx, database, migrations.Migrations); err != nil {
				return err
			}

			entries, err := sqlite.New(database, quiet).ListTimeEntries(ctx, workOrderID)
			if err != nil {
				return err
			}
			f, err := report.Timesheet(entries, loc)
			if err != nil {
				return err
			}
			defer f.Close()

			if out == "" {
				out = report.Filename(workOrderID, time.Now().In(loc))
			}
			if err := f.SaveAs(out); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries written to %s\n", len(entries), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&workOrderID, "work-order", "", "Only entries for this work order")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default timesheet_<work order>_<date>.xlsx)")
	cmd.Flags().StringVar(&tz, "tz", "Local", "Time zone for start and end columns")
	return cmd
}

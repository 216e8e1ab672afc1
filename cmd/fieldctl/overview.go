package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/garnizeh/fieldops/pkg/models"
)

func newTechniciansCmd(opts *options) *cobra.Command {
	var available bool
	cmd := &cobra.Command{
		Use:     "technicians",
		Aliases: []string{"techs"},
		Short:   "List technicians with workload and last activity",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			techs, err := client.ListTechnicians(cmd.Context())
			if err != nil {
				return err
			}
			if available {
				techs = slices.DeleteFunc(techs, func(t models.Technician) bool { return !t.IsAvailable })
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), techs)
			}
			return printTechnicians(cmd.OutOrStdout(), techs, time.Now())
		},
	}
	cmd.Flags().BoolVar(&available, "available", false, "Only technicians available for work")
	return cmd
}

func printTechnicians(w io.Writer, techs []models.Technician, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tWORKLOAD\tDONE TODAY\tRATING\tLAST ACTIVE")
	for _, t := range techs {
		rating := "-"
		if t.AverageJobRating != nil {
			rating = fmt.Sprintf("%.1f", *t.AverageJobRating)
		}
		seen := "never"
		if t.LastActive != nil {
			seen = humanize.RelTime(*t.LastActive, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			t.ID, t.FullName, t.CurrentStatus, t.CurrentWorkload, t.JobsCompletedToday, rating, seen)
	}
	return tw.Flush()
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show dashboard counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			sum, err := client.DashboardSummary(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
}

func printSummary(w io.Writer, sum *models.DashboardSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Work orders\t%s\n", humanize.Comma(int64(sum.TotalWorkOrders)))
	fmt.Fprintf(tw, "Overdue\t%s\n", humanize.Comma(int64(sum.OverdueCount)))
	for _, s := range models.Statuses {
		if n := sum.ByStatus[s]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%s\n", s, humanize.Comma(int64(n)))
		}
	}
	fmt.Fprintf(tw, "Technicians\t%d (%d available, %d on job, %d traveling, %d off duty)\n",
		sum.Technicians.Total, sum.Technicians.Available, sum.Technicians.OnJob,
		sum.Technicians.Traveling, sum.Technicians.OffDuty)
	return tw.Flush()
}

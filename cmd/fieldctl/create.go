package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

func newCreateCmd(opts *options) *cobra.Command {
	var (
		req      fieldops.CreateWorkOrderRequest
		woType   string
		priority string
		items    []string
		required []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order",
		Long: `create validates the work order locally and sends it to the backend.
Validation problems are reported per field without contacting the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			req.Type = models.WorkOrderType(woType)
			req.Priority = models.Priority(priority)
			for _, text := range required {
				req.Checklist = append(req.Checklist, models.ChecklistItem{Text: text, Required: true})
			}
			for _, text := range items {
				req.Checklist = append(req.Checklist, models.ChecklistItem{Text: text})
			}

			wo, err := client.CreateWorkOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), wo)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) %s\n", wo.ID, wo.WorkOrderNumber, wo.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Title, "title", "", "Short description of the job")
	f.StringVar(&req.Description, "description", "", "Longer description")
	f.StringVar(&woType, "type", "", "installation, maintenance, repair, upgrade, inspection or disconnect")
	f.StringVar(&priority, "priority", string(models.PriorityNormal), "low, normal, high, urgent or emergency")
	f.StringVar(&req.CustomerID, "customer", "", "Customer id")
	f.StringVar(&req.ServiceAddress, "address", "", "Service address")
	f.StringVar(&req.ScheduledDate, "date", "", "Scheduled date (YYYY-MM-DD)")
	f.StringVar(&req.ScheduledTimeStart, "time", "", "Scheduled start time (HH:MM)")
	f.IntVar(&req.EstimatedDuration, "duration", 0, "Estimated duration in minutes")
	f.StringVar(&req.AccessInstructions, "access", "", "Site access instructions")
	f.StringVar(&req.TechnicianID, "technician", "", "Assign to this technician on creation")
	f.StringArrayVar(&required, "required-item", nil, "Required checklist item (repeatable)")
	f.StringArrayVar(&items, "item", nil, "Optional checklist item (repeatable)")
	return cmd
}

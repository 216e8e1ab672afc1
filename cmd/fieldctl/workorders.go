package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garnizeh/fieldops/internal/dispatch"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

func newWorkOrdersCmd(opts *options) *cobra.Command {
	var (
		statuses   []string
		priorities []string
		technician string
		search     string
	)
	cmd := &cobra.Command{
		Use:     "workorders",
		Aliases: []string{"wo"},
		Short:   "List work orders",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			filter := fieldops.WorkOrderFilter{TechnicianID: technician, Search: search}
			for _, s := range statuses {
				st := models.Status(s)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			for _, p := range priorities {
				pr := models.Priority(p)
				if !pr.Valid() {
					return fmt.Errorf("unknown priority %q", p)
				}
				filter.Priorities = append(filter.Priorities, pr)
			}

			orders, err := client.ListWorkOrders(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), orders)
			}
			return printWorkOrders(cmd.OutOrStdout(), orders)
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringSliceVar(&priorities, "priority", nil, "Filter by priority (repeatable)")
	cmd.Flags().StringVar(&technician, "technician", "", "Only orders assigned to this technician")
	cmd.Flags().StringVar(&search, "search", "", "Free-text search")
	return cmd
}

func printWorkOrders(w io.Writer, orders []models.WorkOrder) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tPRIORITY\tTECHNICIAN\tPROGRESS\tTITLE")
	for _, wo := range orders {
		tech := "-"
		if wo.Technician != nil {
			tech = wo.Technician.FullName
			if tech == "" {
				tech = wo.Technician.ID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			wo.ID, wo.WorkOrderNumber, wo.Status, wo.Priority, tech, wo.ProgressPercentage, wo.Title)
	}
	return tw.Flush()
}

func newAssignCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <work-order-id> <technician-id>",
		Short: "Assign a technician to a work order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := opts.dispatcher(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := d.ManualAssign(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOut, res)
		},
	}
}

func newDispatchCmd(opts *options) *cobra.Command {
	var (
		emergency bool
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch <work-order-id>",
		Short: "Let the backend pick a technician",
		Long: `dispatch asks the backend recommendation engine to assign the best
technician. With --emergency the order must carry emergency priority and
the dispatch is confirmed interactively unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := opts.dispatcher(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			var res *dispatch.Result
			if emergency {
				confirm := dispatch.ConfirmFunc(func(_ context.Context, wo *models.WorkOrder) (bool, error) {
					if yes {
						return true, nil
					}
					return prompt(cmd.InOrStdin(), cmd.OutOrStdout(),
						fmt.Sprintf("Emergency dispatch for %s (%s)? [y/N] ", wo.WorkOrderNumber, wo.Title))
				})
				res, err = d.EmergencyAssign(cmd.Context(), args[0], confirm)
			} else {
				res, err = d.IntelligentAssign(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOut, res)
		},
	}
	cmd.Flags().BoolVar(&emergency, "emergency", false, "Use the emergency dispatch path")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the emergency confirmation prompt")
	return cmd
}

// dispatcher loads the work order into a single-use cache so the dispatch
// rules run exactly as they do in the agent.
func (o *options) dispatcher(ctx context.Context, workOrderID string) (*dispatch.Dispatcher, func(), error) {
	client, err := o.client()
	if err != nil {
		return nil, nil, err
	}
	wo, err := client.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	cache := &orderCache{orders: map[string]*models.WorkOrder{wo.ID: wo}}
	if wo.ID != workOrderID {
		cache.orders[workOrderID] = wo
	}
	return dispatch.New(client, cache, nil), func() { client.Close() }, nil
}

type orderCache struct {
	orders map[string]*models.WorkOrder
}

func (c *orderCache) WorkOrder(id string) (*models.WorkOrder, error) {
	wo, ok := c.orders[id]
	if !ok {
		return nil, session.ErrWorkOrderNotFound
	}
	return wo.Clone(), nil
}

func (c *orderCache) PutWorkOrder(wo *models.WorkOrder) error {
	c.orders[wo.ID] = wo.Clone()
	return nil
}

func (c *orderCache) ReplaceTechnicians([]models.Technician) error { return nil }

func printResult(w io.Writer, jsonOut bool, res *dispatch.Result) error {
	if jsonOut {
		return printJSON(w, res)
	}
	name := "-"
	if res.Technician != nil {
		name = res.Technician.FullName
	} else if res.WorkOrder != nil && res.WorkOrder.Technician != nil {
		name = res.WorkOrder.Technician.FullName
		if name == "" {
			name = res.WorkOrder.Technician.ID
		}
	}
	fmt.Fprintf(w, "%s assigned to %s\n", res.WorkOrder.ID, name)
	return nil
}

func prompt(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

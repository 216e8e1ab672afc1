package fieldops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/garnizeh/fieldops/pkg/models"
)

// WorkOrderFilter narrows ListWorkOrders. Zero fields are omitted.
type WorkOrderFilter struct {
	Statuses     []models.Status
	Priorities   []models.Priority
	Types        []models.WorkOrderType
	TechnicianID string
	DateFrom     string
	DateTo       string
	Search       string
}

func (f WorkOrderFilter) values() url.Values {
	q := url.Values{}
	for _, s := range f.Statuses {
		q.Add("status[]", string(s))
	}
	for _, p := range f.Priorities {
		q.Add("priority[]", string(p))
	}
	for _, t := range f.Types {
		q.Add("type[]", string(t))
	}
	if f.TechnicianID != "" {
		q.Set("technician_id", f.TechnicianID)
	}
	if f.DateFrom != "" {
		q.Set("date_from", f.DateFrom)
	}
	if f.DateTo != "" {
		q.Set("date_to", f.DateTo)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// CreateWorkOrderRequest is the body of POST /work-orders.
type CreateWorkOrderRequest struct {
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	Type               models.WorkOrderType   `json:"work_order_type"`
	Priority           models.Priority        `json:"priority"`
	CustomerID         string                 `json:"customer_id"`
	ServiceAddress     string                 `json:"service_address"`
	ScheduledDate      string                 `json:"scheduled_date,omitempty"`
	ScheduledTimeStart string                 `json:"scheduled_time_start,omitempty"`
	EstimatedDuration  int                    `json:"estimated_duration,omitempty"`
	AccessInstructions string                 `json:"access_instructions,omitempty"`
	TechnicianID       string                 `json:"technician_id,omitempty"`
	Checklist          []models.ChecklistItem `json:"checklist_items,omitempty"`
}

// StatusUpdate is the body of PUT /work-orders/{id}/status.
type StatusUpdate struct {
	NewStatus models.Status `json:"new_status"`
	Notes     string        `json:"notes,omitempty"`
}

func (c *Client) ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]models.WorkOrder, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.endpoint("work-orders"), f.values(), nil, &raw); err != nil {
		return nil, err
	}
	return decodeEach[models.WorkOrder](raw, "work order"), nil
}

// decodeEach decodes list elements one at a time. An element that does not
// decode is logged and skipped so one bad record cannot hide the rest.
func decodeEach[T any](raw []json.RawMessage, what string) []T {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logger.Warn("fieldops: skipping undecodable "+what,
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *Client) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodGet, c.endpoint("work-orders", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorkOrder validates req locally and, if it passes, creates the work
// order. A local validation failure is returned as *ValidationError without
// contacting the server.
func (c *Client) CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (*models.WorkOrder, error) {
	if err := ValidateCreateRequest(ctx, req); err != nil {
		return nil, err
	}
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPost, c.endpoint("work-orders"), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStatus requests a status transition. loc is sent as query parameters
// when non-nil.
func (c *Client) UpdateStatus(ctx context.Context, id string, upd StatusUpdate, loc *models.Location) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPut, c.endpoint("work-orders", id, "status"), locationQuery(loc), upd, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssignTechnician(ctx context.Context, id, technicianID string) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPut, c.endpoint("work-orders", id, "assign", technicianID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DispatchIntelligent asks the backend's recommendation engine to pick a
// technician and returns the one it assigned.
func (c *Client) DispatchIntelligent(ctx context.Context, id string) (*models.Technician, error) {
	return c.dispatch(ctx, id, "intelligent")
}

func (c *Client) DispatchEmergency(ctx context.Context, id string) (*models.Technician, error) {
	return c.dispatch(ctx, id, "emergency")
}

func (c *Client) dispatch(ctx context.Context, id, strategy string) (*models.Technician, error) {
	var out models.Technician
	if err := c.do(ctx, http.MethodPost, c.endpoint("work-orders", id, "dispatch", strategy), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTechnicians(ctx context.Context) ([]models.Technician, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.endpoint("technicians"), nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeEach[models.Technician](raw, "technician"), nil
}

func (c *Client) DashboardSummary(ctx context.Context) (*models.DashboardSummary, error) {
	var out models.DashboardSummary
	if err := c.do(ctx, http.MethodGet, c.endpoint("dashboard", "summary"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

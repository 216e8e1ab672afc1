package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/garnizeh/fieldops/internal/workflow"
	"github.com/garnizeh/fieldops/pkg/models"
)

type WorkOrderReader interface {
	WorkOrders() ([]models.WorkOrder, error)
	WorkOrder(id string) (*models.WorkOrder, error)
}

type Workflow interface {
	CheckIn(ctx context.Context, id string) (*models.WorkOrder, error)
	StartWork(ctx context.Context, id string) (*models.WorkOrder, error)
	CompleteWork(ctx context.Context, id, notes string) (*models.WorkOrder, error)
	Cancel(ctx context.Context, id, reason string) (*models.WorkOrder, error)
	RequireFollowup(ctx context.Context, id, notes string) (*models.WorkOrder, error)
	Advance(ctx context.Context, id string, to models.Status, notes string) (*models.WorkOrder, error)
}

type WorkOrdersHandler struct {
	orders WorkOrderReader
	flow   Workflow
}

func NewWorkOrdersHandler(orders WorkOrderReader, flow Workflow) *WorkOrdersHandler {
	return &WorkOrdersHandler{orders: orders, flow: flow}
}

// workOrderView adds the statuses the order may move to next.
type workOrderView struct {
	*models.WorkOrder
	AllowedTransitions []models.Status `json:"allowed_transitions"`
}

func view(wo *models.WorkOrder) workOrderView {
	next := workflow.Next(wo.Status)
	if next == nil {
		next = []models.Status{}
	}
	return workOrderView{WorkOrder: wo, AllowedTransitions: next}
}

// List serves the cached work orders. The status, priority and
// technician_id query parameters narrow the list; status and priority may
// repeat.
func (h *WorkOrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.orders.WorkOrders()
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	statuses := q["status"]
	priorities := q["priority"]
	tech := q.Get("technician_id")

	out := make([]models.WorkOrder, 0, len(all))
	for _, wo := range all {
		if len(statuses) > 0 && !slices.Contains(statuses, string(wo.Status)) {
			continue
		}
		if len(priorities) > 0 && !slices.Contains(priorities, string(wo.Priority)) {
			continue
		}
		if tech != "" && (wo.Technician == nil || wo.Technician.ID != tech) {
			continue
		}
		out = append(out, wo)
	}
	writeJSON(w, map[string]any{"total": len(out), "items": out}, http.StatusOK)
}

func (h *WorkOrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	wo, err := h.orders.WorkOrder(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view(wo), http.StatusOK)
}

type transitionRequest struct {
	Notes  string        `json:"notes"`
	Reason string        `json:"reason"`
	Status models.Status `json:"status"`
}

func (h *WorkOrdersHandler) transition(fn func(ctx context.Context, id string, req transitionRequest) (*models.WorkOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		wo, err := fn(r.Context(), mux.Vars(r)["id"], req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, view(wo), http.StatusOK)
	}
}

func (h *WorkOrdersHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, id string, _ transitionRequest) (*models.WorkOrder, error) {
		return h.flow.CheckIn(ctx, id)
	})(w, r)
}

func (h *WorkOrdersHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, id string, _ transitionRequest) (*models.WorkOrder, error) {
		return h.flow.StartWork(ctx, id)
	})(w, r)
}

func (h *WorkOrdersHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, id string, req transitionRequest) (*models.WorkOrder, error) {
		return h.flow.CompleteWork(ctx, id, req.Notes)
	})(w, r)
}

func (h *WorkOrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, id string, req transitionRequest) (*models.WorkOrder, error) {
		reason := req.Reason
		if reason == "" {
			reason = req.Notes
		}
		return h.flow.Cancel(ctx, id, reason)
	})(w, r)
}

func (h *WorkOrdersHandler) Followup(w http.ResponseWriter, r *http.Request) {
	h.transition(func(ctx context.Context, id string, req transitionRequest) (*models.WorkOrder, error) {
		return h.flow.RequireFollowup(ctx, id, req.Notes)
	})(w, r)
}

// Advance moves a work order to the status named in the body, for
// administrative steps that have no dedicated route.
func (h *WorkOrdersHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	wo, err := h.flow.Advance(r.Context(), mux.Vars(r)["id"], req.Status, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view(wo), http.StatusOK)
}

package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/fieldops/internal/dispatch"
	"github.com/garnizeh/fieldops/pkg/models"
)

type Assigner interface {
	ManualAssign(ctx context.Context, workOrderID, technicianID string) (*dispatch.Result, error)
	IntelligentAssign(ctx context.Context, workOrderID string) (*dispatch.Result, error)
	EmergencyAssign(ctx context.Context, workOrderID string, confirm dispatch.Confirmer) (*dispatch.Result, error)
}

type DispatchHandler struct {
	assigner Assigner
}

func NewDispatchHandler(a Assigner) *DispatchHandler {
	return &DispatchHandler{assigner: a}
}

func (h *DispatchHandler) Assign(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := h.assigner.ManualAssign(r.Context(), vars["id"], vars["technicianId"])
	h.respond(w, res, err)
}

func (h *DispatchHandler) Intelligent(w http.ResponseWriter, r *http.Request) {
	res, err := h.assigner.IntelligentAssign(r.Context(), mux.Vars(r)["id"])
	h.respond(w, res, err)
}

type emergencyRequest struct {
	Confirm bool `json:"confirm"`
}

// Emergency needs an explicit {"confirm": true}; the caller has shown the
// dispatcher a confirmation prompt.
func (h *DispatchHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	confirm := dispatch.ConfirmFunc(func(context.Context, *models.WorkOrder) (bool, error) {
		return req.Confirm, nil
	})
	res, err := h.assigner.EmergencyAssign(r.Context(), mux.Vars(r)["id"], confirm)
	h.respond(w, res, err)
}

func (h *DispatchHandler) respond(w http.ResponseWriter, res *dispatch.Result, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

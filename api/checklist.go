package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/garnizeh/fieldops/pkg/models"
)

type ChecklistTracker interface {
	ToggleItem(ctx context.Context, workOrderID, itemID string, completed bool) (int, error)
	AttachEvidence(ctx context.Context, workOrderID, itemID string, ev models.Evidence) (*models.Evidence, error)
	ChecklistDiscarder
}

type ChecklistHandler struct {
	tracker ChecklistTracker
}

func NewChecklistHandler(t ChecklistTracker) *ChecklistHandler {
	return &ChecklistHandler{tracker: t}
}

type toggleRequest struct {
	Completed *bool `json:"completed"`
}

type toggleResponse struct {
	WorkOrderID        string `json:"work_order_id"`
	ItemID             string `json:"item_id"`
	Completed          bool   `json:"completed"`
	ProgressPercentage int    `json:"progress_percentage"`
}

func (h *ChecklistHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.Completed == nil {
		http.Error(w, "completed is required", http.StatusBadRequest)
		return
	}
	vars := mux.Vars(r)
	progress, err := h.tracker.ToggleItem(r.Context(), vars["id"], vars["itemId"], *req.Completed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toggleResponse{
		WorkOrderID:        vars["id"],
		ItemID:             vars["itemId"],
		Completed:          *req.Completed,
		ProgressPercentage: progress,
	}, http.StatusOK)
}

// evidenceRequest carries binary payloads base64 encoded.
type evidenceRequest struct {
	Kind        models.EvidenceKind `json:"kind"`
	ContentType string              `json:"content_type"`
	Payload     []byte              `json:"payload"`
	Value       *float64            `json:"value"`
	Unit        string              `json:"unit"`
	CapturedAt  *time.Time          `json:"captured_at"`
}

func (h *ChecklistHandler) AttachEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	switch {
	case !req.Kind.Valid():
		http.Error(w, "unknown evidence kind", http.StatusBadRequest)
		return
	case req.Kind.Binary() && len(req.Payload) == 0:
		http.Error(w, "payload is required for "+string(req.Kind), http.StatusBadRequest)
		return
	case req.Kind == models.EvidenceMeasurement && req.Value == nil:
		http.Error(w, "value is required for measurement", http.StatusBadRequest)
		return
	}

	ev := models.Evidence{
		Kind:        req.Kind,
		ContentType: req.ContentType,
		Payload:     req.Payload,
		Value:       req.Value,
		Unit:        req.Unit,
	}
	if req.CapturedAt != nil {
		ev.CapturedAt = req.CapturedAt.UTC()
	}
	vars := mux.Vars(r)
	out, err := h.tracker.AttachEvidence(r.Context(), vars["id"], vars["itemId"], ev)
	if err != nil {
		writeError(w, err)
		return
	}
	// Echo metadata only.
	out.Payload = nil
	writeJSON(w, out, http.StatusCreated)
}

package api

import (
	"net/http"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

type Directory interface {
	WorkOrders() ([]models.WorkOrder, error)
	Technicians() ([]models.Technician, error)
	Summary() (*models.DashboardSummary, error)
}

type LocationSource interface {
	Update(loc models.Location) error
	Current() (models.Location, bool)
	Pending() bool
}

type OverviewHandler struct {
	dir      Directory
	location LocationSource
}

func NewOverviewHandler(dir Directory, loc LocationSource) *OverviewHandler {
	return &OverviewHandler{dir: dir, location: loc}
}

func (h *OverviewHandler) Technicians(w http.ResponseWriter, r *http.Request) {
	techs, err := h.dir.Technicians()
	if err != nil {
		writeError(w, err)
		return
	}
	if techs == nil {
		techs = []models.Technician{}
	}
	if r.URL.Query().Get("available") == "true" {
		avail := techs[:0]
		for _, t := range techs {
			if t.IsAvailable {
				avail = append(avail, t)
			}
		}
		techs = avail
	}
	writeJSON(w, techs, http.StatusOK)
}

// Summary serves the cached dashboard summary, computing one from the
// cached lists until the first refresh has stored it.
func (h *OverviewHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.dir.Summary()
	if err != nil {
		writeError(w, err)
		return
	}
	if sum == nil {
		orders, err := h.dir.WorkOrders()
		if err != nil {
			writeError(w, err)
			return
		}
		techs, err := h.dir.Technicians()
		if err != nil {
			writeError(w, err)
			return
		}
		s := models.Summarize(orders, techs, time.Now())
		sum = &s
	}
	writeJSON(w, sum, http.StatusOK)
}

type locationResponse struct {
	Location *models.Location `json:"location"`
	Pending  bool             `json:"pending"`
}

func (h *OverviewHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if !decodeJSON(w, r, &loc, false) {
		return
	}
	if err := h.location.Update(loc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, locationResponse{Location: &loc}, http.StatusOK)
}

func (h *OverviewHandler) Location(w http.ResponseWriter, r *http.Request) {
	resp := locationResponse{Pending: h.location.Pending()}
	if loc, ok := h.location.Current(); ok {
		resp.Location = &loc
	}
	writeJSON(w, resp, http.StatusOK)
}

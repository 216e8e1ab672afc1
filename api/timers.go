package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/garnizeh/fieldops/internal/report"
	"github.com/garnizeh/fieldops/internal/timetrack"
	"github.com/garnizeh/fieldops/pkg/models"
)

type TimeTracker interface {
	StartTimer(ctx context.Context, workOrderID string, activity models.ActivityType) (*models.TimeEntry, error)
	StopTimer(ctx context.Context, entryID string) (*models.TimeEntry, error)
	Active(ctx context.Context) (*models.TimeEntry, error)
	Entries(ctx context.Context, workOrderID string) ([]models.TimeEntry, error)
	TimeDiscarder
}

type TimersHandler struct {
	timers TimeTracker
}

func NewTimersHandler(t TimeTracker) *TimersHandler {
	return &TimersHandler{timers: t}
}

type startTimerRequest struct {
	WorkOrderID  string              `json:"work_order_id"`
	ActivityType models.ActivityType `json:"activity_type"`
}

type timerConflict struct {
	Error  string            `json:"error"`
	Active *models.TimeEntry `json:"active"`
}

func (h *TimersHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startTimerRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if req.WorkOrderID == "" {
		http.Error(w, "work_order_id is required", http.StatusBadRequest)
		return
	}
	if req.ActivityType == "" {
		req.ActivityType = models.ActivityWork
	}

	e, err := h.timers.StartTimer(r.Context(), req.WorkOrderID, req.ActivityType)
	if errors.Is(err, timetrack.ErrTimerRunning) {
		writeJSON(w, timerConflict{Error: err.Error(), Active: e}, http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, e, http.StatusCreated)
}

func (h *TimersHandler) Stop(w http.ResponseWriter, r *http.Request) {
	e, err := h.timers.StopTimer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, e, http.StatusOK)
}

func (h *TimersHandler) Active(w http.ResponseWriter, r *http.Request) {
	e, err := h.timers.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, e, http.StatusOK)
}

func (h *TimersHandler) Entries(w http.ResponseWriter, r *http.Request) {
	list, err := h.timers.Entries(r.Context(), r.URL.Query().Get("work_order_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []models.TimeEntry{}
	}
	writeJSON(w, list, http.StatusOK)
}

// Timesheet streams an xlsx export. tz takes an IANA zone name.
func (h *TimersHandler) Timesheet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			http.Error(w, "invalid tz", http.StatusBadRequest)
			return
		}
		loc = l
	}
	woID := q.Get("work_order_id")
	list, err := h.timers.Entries(r.Context(), woID)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := report.Timesheet(list, loc)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+report.Filename(woID, time.Now().In(loc))+"\"")
	if err := f.Write(w); err != nil {
		logger.Error("write timesheet", slog.String("error", err.Error()))
	}
}

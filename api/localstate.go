package api

import (
	"context"
	"log/slog"
	"net/http"
)

type TimeDiscarder interface {
	Discard(ctx context.Context) (int64, error)
}

type ChecklistDiscarder interface {
	Discard(ctx context.Context) (edits, evidence int64, err error)
}

// LocalStateHandler wipes client-owned data the backend has not accepted
// yet. Synced rows are kept.
type LocalStateHandler struct {
	timers    TimeDiscarder
	checklist ChecklistDiscarder
	onReset   func()
}

// NewLocalStateHandler creates a LocalStateHandler. onReset, when set, runs
// after the local data is gone, typically to refetch the cached orders.
func NewLocalStateHandler(timers TimeDiscarder, checklist ChecklistDiscarder, onReset func()) *LocalStateHandler {
	return &LocalStateHandler{timers: timers, checklist: checklist, onReset: onReset}
}

type resetResponse struct {
	TimeEntries    int64 `json:"time_entries"`
	ChecklistEdits int64 `json:"checklist_edits"`
	Evidence       int64 `json:"evidence"`
}

func (h *LocalStateHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var out resetResponse
	var err error
	if out.TimeEntries, err = h.timers.Discard(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if out.ChecklistEdits, out.Evidence, err = h.checklist.Discard(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if h.onReset != nil {
		h.onReset()
	}
	logger.Info("local state reset",
		slog.Int64("time_entries", out.TimeEntries),
		slog.Int64("checklist_edits", out.ChecklistEdits),
		slog.Int64("evidence", out.Evidence))
	writeJSON(w, out, http.StatusOK)
}

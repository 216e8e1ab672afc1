package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/garnizeh/fieldops/internal/checklist"
	"github.com/garnizeh/fieldops/internal/dispatch"
	"github.com/garnizeh/fieldops/internal/location"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/internal/timetrack"
	"github.com/garnizeh/fieldops/internal/workflow"
	"github.com/garnizeh/fieldops/pkg/fieldops"
)

const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	http.Error(w, "invalid request", http.StatusBadRequest)
	return false
}

type validationResponse struct {
	Error  string                `json:"error"`
	Fields []fieldops.FieldError `json:"fields"`
}

// writeError maps domain and backend errors onto HTTP statuses. Backend
// messages are passed through unchanged.
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid    *workflow.InvalidTransitionError
		noLocation *workflow.LocationUnavailableError
		incomplete *workflow.IncompleteChecklistError
		mismatch   *workflow.InconsistentStateError
		validation *fieldops.ValidationError
		upstream   *fieldops.HTTPError
		network    *fieldops.NetworkError
	)
	switch {
	case errors.As(err, &mismatch):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.As(err, &invalid), errors.As(err, &incomplete), errors.Is(err, checklist.ErrWorkOrderClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &noLocation):
		http.Error(w, err.Error(), http.StatusPreconditionRequired)
	case errors.Is(err, dispatch.ErrNotEmergency), errors.Is(err, dispatch.ErrNotConfirmed):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.As(err, &validation):
		writeJSON(w, validationResponse{Error: err.Error(), Fields: validation.Fields}, http.StatusUnprocessableEntity)
	case errors.As(err, &upstream):
		http.Error(w, upstream.Error(), upstream.StatusCode)
	case errors.As(err, &network), errors.Is(err, fieldops.ErrCircuitOpen):
		http.Error(w, fmt.Sprintf("field-operations backend unavailable: %v", err), http.StatusServiceUnavailable)
	case errors.Is(err, session.ErrWorkOrderNotFound),
		errors.Is(err, session.ErrTechnicianUnknown),
		errors.Is(err, checklist.ErrItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSessionClosed):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, timetrack.ErrTimerRunning), errors.Is(err, timetrack.ErrTimerNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, location.ErrInvalidFix):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

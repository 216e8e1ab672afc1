package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/garnizeh/fieldops/internal/session"
)

type SessionStatus interface {
	Current() (*session.Session, error)
}

// SystemHandler serves the unauthenticated probes.
type SystemHandler struct {
	Sessions SessionStatus
}

type healthResponse struct {
	Status      string     `json:"status"`
	Service     string     `json:"service"`
	Session     string     `json:"session"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "fieldops", Session: "none"}
	if h.Sessions != nil {
		if s, err := h.Sessions.Current(); err == nil {
			resp.Session = "active"
			if at := s.RefreshedAt(); !at.IsZero() {
				resp.RefreshedAt = &at
			}
		}
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","buildTime":"%s"}`, version, buildTime)
	}
}

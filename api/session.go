package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garnizeh/fieldops/internal/session"
)

type SessionManager interface {
	Start(token string, now time.Time) (*session.Session, error)
	End()
	Current() (*session.Session, error)
}

// SessionHandler exchanges a backend bearer token for a local token. The
// backend token never leaves the agent after that.
type SessionHandler struct {
	sessions      SessionManager
	jwtSecret     string
	tokenDuration time.Duration
	onStart       func()
}

// NewSessionHandler creates a SessionHandler. onStart, when set, runs after a
// session opens.
func NewSessionHandler(sm SessionManager, jwtSecret string, tokenDuration time.Duration, onStart func()) *SessionHandler {
	return &SessionHandler{sessions: sm, jwtSecret: jwtSecret, tokenDuration: tokenDuration, onStart: onStart}
}

type openSessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	Identity  session.Identity `json:"identity"`
}

func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	s, err := h.sessions.Start(req.Token, now)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	id, err := s.Identity()
	if err != nil {
		writeError(w, err)
		return
	}

	// The local token never outlives the backend token.
	exp := now.Add(h.tokenDuration)
	if !id.ExpiresAt.IsZero() && id.ExpiresAt.Before(exp) {
		exp = id.ExpiresAt
	}
	claims := jwt.MapClaims{
		"sub": id.Subject,
		"sid": s.ID(),
		"exp": exp.Unix(),
	}
	if id.TechnicianID != "" {
		claims["technician_id"] = id.TechnicianID
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
	if err != nil {
		http.Error(w, "Error signing token", http.StatusInternalServerError)
		return
	}

	if h.onStart != nil {
		h.onStart()
	}
	writeJSON(w, sessionResponse{Token: tokenStr, ExpiresAt: exp.UTC(), Identity: id}, http.StatusCreated)
}

func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.sessions.End()
	w.WriteHeader(http.StatusNoContent)
}

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/garnizeh/fieldops/pkg/models"
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrNoSession         = errors.New("no active session")
	ErrTokenExpired      = errors.New("bearer token expired")
	ErrWorkOrderNotFound = errors.New("work order not in cache")
	ErrTechnicianUnknown = errors.New("technician not in cache")
)

// Identity is who the bearer token belongs to. The backend verifies the
// token; the client only reads its claims.
type Identity struct {
	TechnicianID string    `json:"technician_id,omitempty"`
	Subject      string    `json:"subject"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Session is the application state for one signed-in user: the bearer token
// and the cached work orders, technicians and summary. It is created on
// sign-in and emptied by Close on logout.
type Session struct {
	mu          sync.RWMutex
	id          string
	token       string
	identity    Identity
	orders      []models.WorkOrder
	index       map[string]int
	technicians []models.Technician
	summary     *models.DashboardSummary
	refreshedAt time.Time
	closed      bool
}

// Open starts a session from a backend bearer token.
func Open(token string, now time.Time) (*Session, error) {
	id, err := parseIdentity(token, now)
	if err != nil {
		return nil, err
	}
	return &Session{id: uuid.NewString(), token: token, identity: id, index: make(map[string]int)}, nil
}

// ID is unique per sign-in. Local tokens carry it so they stop working once
// the session they were minted for ends.
func (s *Session) ID() string { return s.id }

func parseIdentity(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("empty bearer token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse bearer token: %w", err)
	}

	var id Identity
	id.Subject, _ = claims.GetSubject()
	if v, ok := claims["technician_id"]; ok {
		id.TechnicianID = fmt.Sprint(v)
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if role, ok := claims["role"].(string); ok {
		id.Role = role
	}
	if id.TechnicianID == "" && id.Role == "technician" {
		id.TechnicianID = id.Subject
	}
	if id.Subject == "" && id.TechnicianID == "" {
		return Identity{}, errors.New("bearer token has no subject")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Identity{}, fmt.Errorf("parse bearer token expiry: %w", err)
	}
	if exp != nil {
		id.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return Identity{}, ErrTokenExpired
		}
	}
	return id, nil
}

// Token implements fieldops.TokenSource.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.token, nil
}

func (s *Session) Identity() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Identity{}, ErrSessionClosed
	}
	return s.identity, nil
}

// WorkOrder returns a copy of the cached work order.
func (s *Session) WorkOrder(id string) (*models.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	i, ok := s.index[id]
	if !ok {
		return nil, ErrWorkOrderNotFound
	}
	return s.orders[i].Clone(), nil
}

// WorkOrders returns copies of the cached work orders in server order.
func (s *Session) WorkOrders() ([]models.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	out := make([]models.WorkOrder, len(s.orders))
	for i := range s.orders {
		out[i] = *s.orders[i].Clone()
	}
	return out, nil
}

// PutWorkOrder stores a server-confirmed work order, replacing any cached
// copy with the same id.
func (s *Session) PutWorkOrder(wo *models.WorkOrder) error {
	if wo == nil || wo.ID == "" {
		return errors.New("work order without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	c := *wo.Clone()
	if i, ok := s.index[wo.ID]; ok {
		s.orders[i] = c
		return nil
	}
	s.index[wo.ID] = len(s.orders)
	s.orders = append(s.orders, c)
	return nil
}

// ReplaceWorkOrders swaps the whole cache for a freshly fetched list.
func (s *Session) ReplaceWorkOrders(list []models.WorkOrder, at time.Time) error {
	orders := make([]models.WorkOrder, len(list))
	index := make(map[string]int, len(list))
	for i := range list {
		orders[i] = *list[i].Clone()
		index[list[i].ID] = i
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.orders = orders
	s.index = index
	s.refreshedAt = at
	return nil
}

func (s *Session) Technicians() ([]models.Technician, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	out := make([]models.Technician, len(s.technicians))
	for i := range s.technicians {
		out[i] = *s.technicians[i].Clone()
	}
	return out, nil
}

func (s *Session) Technician(id string) (*models.Technician, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	for i := range s.technicians {
		if s.technicians[i].ID == id {
			return s.technicians[i].Clone(), nil
		}
	}
	return nil, ErrTechnicianUnknown
}

func (s *Session) ReplaceTechnicians(list []models.Technician) error {
	techs := make([]models.Technician, len(list))
	for i := range list {
		techs[i] = *list[i].Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.technicians = techs
	return nil
}

func (s *Session) Summary() (*models.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.summary == nil {
		return nil, nil
	}
	c := *s.summary
	c.ByStatus = make(map[models.Status]int, len(s.summary.ByStatus))
	for k, v := range s.summary.ByStatus {
		c.ByStatus[k] = v
	}
	c.ByPriority = make(map[models.Priority]int, len(s.summary.ByPriority))
	for k, v := range s.summary.ByPriority {
		c.ByPriority[k] = v
	}
	return &c, nil
}

func (s *Session) SetSummary(sum *models.DashboardSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.summary = sum
	return nil
}

func (s *Session) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// Close clears the token and every cache. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.token = ""
	s.identity = Identity{}
	s.orders = nil
	s.index = map[string]int{}
	s.technicians = nil
	s.summary = nil
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

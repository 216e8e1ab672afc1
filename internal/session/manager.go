package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

// Manager owns the current Session. Components hold the Manager and always
// see the session that is active at call time.
type Manager struct {
	mu      sync.RWMutex
	current *Session
	logger  *slog.Logger
	onEnd   []func()
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// OnEnd registers fn to run after a session is closed.
func (m *Manager) OnEnd(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, fn)
}

// Start opens a session from token, closing any previous one.
func (m *Manager) Start(token string, now time.Time) (*Session, error) {
	s, err := Open(token, now)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	id, _ := s.Identity()
	m.logger.Info("session started", slog.String("subject", id.Subject), slog.String("technician_id", id.TechnicianID))
	return s, nil
}

// End closes the active session. It is a no-op without one.
func (m *Manager) End() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	hooks := append([]func(){}, m.onEnd...)
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.Close()
	for _, fn := range hooks {
		fn()
	}
	m.logger.Info("session ended")
}

// Current returns the active session or ErrNoSession.
func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

func (m *Manager) Token() (string, error) {
	s, err := m.Current()
	if err != nil {
		return "", err
	}
	return s.Token()
}

func (m *Manager) Identity() (Identity, error) {
	s, err := m.Current()
	if err != nil {
		return Identity{}, err
	}
	return s.Identity()
}

func (m *Manager) WorkOrder(id string) (*models.WorkOrder, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}
	return s.WorkOrder(id)
}

func (m *Manager) WorkOrders() ([]models.WorkOrder, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}
	return s.WorkOrders()
}

func (m *Manager) PutWorkOrder(wo *models.WorkOrder) error {
	s, err := m.Current()
	if err != nil {
		return err
	}
	return s.PutWorkOrder(wo)
}

func (m *Manager) ReplaceWorkOrders(list []models.WorkOrder, at time.Time) error {
	s, err := m.Current()
	if err != nil {
		return err
	}
	return s.ReplaceWorkOrders(list, at)
}

func (m *Manager) Technicians() ([]models.Technician, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}
	return s.Technicians()
}

func (m *Manager) ReplaceTechnicians(list []models.Technician) error {
	s, err := m.Current()
	if err != nil {
		return err
	}
	return s.ReplaceTechnicians(list)
}

func (m *Manager) Summary() (*models.DashboardSummary, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}
	return s.Summary()
}

func (m *Manager) SetSummary(sum *models.DashboardSummary) error {
	s, err := m.Current()
	if err != nil {
		return err
	}
	return s.SetSummary(sum)
}

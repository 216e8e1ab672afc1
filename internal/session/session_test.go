package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/pkg/models"
)

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestOpen_ReadsIdentity(t *testing.T) {
	now := time.Now()
	tok := makeToken(t, jwt.MapClaims{"sub": "u-7", "technician_id": "tech-7", "name": "Rita", "exp": now.Add(time.Hour).Unix()})

	s, err := session.Open(tok, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.Identity()
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.TechnicianID != "tech-7" || id.Subject != "u-7" || id.Name != "Rita" {
		t.Fatalf("unexpected identity %#v", id)
	}
	got, _ := s.Token()
	if got != tok {
		t.Fatalf("token not kept")
	}
}

func TestOpen_TechnicianRoleUsesSubject(t *testing.T) {
	tok := makeToken(t, jwt.MapClaims{"sub": "tech-9", "role": "technician"})
	s, err := session.Open(tok, time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := s.Identity()
	if id.TechnicianID != "tech-9" {
		t.Fatalf("expected technician id from subject, got %q", id.TechnicianID)
	}
}

func TestOpen_Rejects(t *testing.T) {
	now := time.Now()
	if _, err := session.Open("", now); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := session.Open("not-a-jwt", now); err == nil {
		t.Fatalf("expected error for malformed token")
	}
	expired := makeToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()})
	if _, err := session.Open(expired, now); !errors.Is(err, session.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSession_CacheReturnsCopies(t *testing.T) {
	s, err := session.Open(makeToken(t, jwt.MapClaims{"sub": "u1"}), time.Now())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wo := &models.WorkOrder{ID: "w1", Status: models.StatusScheduled, Checklist: []models.ChecklistItem{{ID: "i1"}}}
	if err := s.PutWorkOrder(wo); err != nil {
		t.Fatalf("PutWorkOrder: %v", err)
	}
	wo.Status = models.StatusCancelled

	got, err := s.WorkOrder("w1")
	if err != nil {
		t.Fatalf("WorkOrder: %v", err)
	}
	if got.Status != models.StatusScheduled {
		t.Fatalf("cache aliased caller value")
	}
	got.Checklist[0].Completed = true
	again, _ := s.WorkOrder("w1")
	if again.Checklist[0].Completed {
		t.Fatalf("cache aliased returned value")
	}

	if _, err := s.WorkOrder("missing"); !errors.Is(err, session.ErrWorkOrderNotFound) {
		t.Fatalf("expected ErrWorkOrderNotFound, got %v", err)
	}
}

func TestSession_ReplaceIsWholesale(t *testing.T) {
	s, _ := session.Open(makeToken(t, jwt.MapClaims{"sub": "u1"}), time.Now())
	_ = s.PutWorkOrder(&models.WorkOrder{ID: "old"})
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.ReplaceWorkOrders([]models.WorkOrder{{ID: "a"}, {ID: "b"}}, at); err != nil {
		t.Fatalf("ReplaceWorkOrders: %v", err)
	}
	list, _ := s.WorkOrders()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected list %#v", list)
	}
	if _, err := s.WorkOrder("old"); err == nil {
		t.Fatalf("old entry should be gone")
	}
	if !s.RefreshedAt().Equal(at) {
		t.Fatalf("refresh time not recorded")
	}
}

func TestSession_CloseClearsState(t *testing.T) {
	s, _ := session.Open(makeToken(t, jwt.MapClaims{"sub": "u1"}), time.Now())
	_ = s.PutWorkOrder(&models.WorkOrder{ID: "w1"})
	_ = s.ReplaceTechnicians([]models.Technician{{ID: "t1"}})
	s.Close()
	s.Close()

	if _, err := s.Token(); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := s.WorkOrders(); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := s.PutWorkOrder(&models.WorkOrder{ID: "w2"}); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestManager_StartEnd(t *testing.T) {
	m := session.NewManager(nil)
	if _, err := m.Token(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	ended := 0
	m.OnEnd(func() { ended++ })

	first, err := m.Start(makeToken(t, jwt.MapClaims{"sub": "u1"}), time.Now())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(makeToken(t, jwt.MapClaims{"sub": "u2"}), time.Now()); err != nil {
		t.Fatalf("Start second: %v", err)
	}
	if !first.Closed() {
		t.Fatalf("previous session should be closed")
	}
	id, _ := m.Identity()
	if id.Subject != "u2" {
		t.Fatalf("unexpected identity %#v", id)
	}

	m.End()
	m.End()
	if ended != 1 {
		t.Fatalf("expected one end hook call, got %d", ended)
	}
	if _, err := m.WorkOrders(); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after End, got %v", err)
	}
}

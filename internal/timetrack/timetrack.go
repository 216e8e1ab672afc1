package timetrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/fieldops/internal/jobs"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/pkg/models"
	"github.com/garnizeh/fieldops/pkg/repository"
)

var (
	// ErrTimerRunning rejects a start while another timer is open. The open
	// entry is returned alongside it and left untouched.
	ErrTimerRunning    = errors.New("a timer is already running")
	ErrTimerNotRunning = errors.New("timer is not running")
)

type IdentitySource interface {
	Identity() (session.Identity, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error)
}

// Tracker records work and travel time per technician. The local store is
// the source of truth, so an open timer survives a restart.
type Tracker struct {
	mu     sync.Mutex
	store  repository.TimeEntryRepo
	outbox Enqueuer
	ident  IdentitySource
	now    func() time.Time
	logger *slog.Logger
}

func New(store repository.TimeEntryRepo, outbox Enqueuer, ident IdentitySource, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, outbox: outbox, ident: ident, now: time.Now, logger: logger}
}

// WithClock replaces the wall clock.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) technician() (string, error) {
	id, err := t.ident.Identity()
	if err != nil {
		return "", err
	}
	if id.TechnicianID != "" {
		return id.TechnicianID, nil
	}
	return id.Subject, nil
}

// StartTimer opens a new entry for workOrderID.
func (t *Tracker) StartTimer(ctx context.Context, workOrderID string, activity models.ActivityType) (*models.TimeEntry, error) {
	if workOrderID == "" {
		return nil, errors.New("work order id is required")
	}
	if !activity.Valid() {
		return nil, fmt.Errorf("unknown activity type %q", activity)
	}
	tech, err := t.technician()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	open, err := t.store.GetOpenTimeEntry(ctx, tech)
	if err != nil {
		return nil, fmt.Errorf("look up open timer: %w", err)
	}
	if open != nil {
		return open, ErrTimerRunning
	}

	e := &models.TimeEntry{
		ID:           uuid.NewString(),
		WorkOrderID:  workOrderID,
		TechnicianID: tech,
		ActivityType: activity,
		StartTime:    t.now().UTC(),
	}
	if err := t.store.CreateTimeEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("create time entry: %w", err)
	}
	t.logger.Info("timer started",
		slog.String("entry_id", e.ID),
		slog.String("work_order_id", workOrderID),
		slog.String("activity", string(activity)))
	return e, nil
}

// StopTimer closes the open entry entryID and queues it for sync.
func (t *Tracker) StopTimer(ctx context.Context, entryID string) (*models.TimeEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.store.GetTimeEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load time entry: %w", err)
	}
	if e == nil || !e.Open() {
		return nil, ErrTimerNotRunning
	}
	if err := e.Close(t.now().UTC()); err != nil {
		return nil, ErrTimerNotRunning
	}
	if err := t.store.CloseTimeEntry(ctx, e); err != nil {
		if errors.Is(err, models.ErrTimeEntryClosed) {
			return nil, ErrTimerNotRunning
		}
		return nil, fmt.Errorf("close time entry: %w", err)
	}
	t.enqueue(ctx, e.ID)
	t.logger.Info("timer stopped",
		slog.String("entry_id", e.ID),
		slog.Int("duration_minutes", *e.DurationMinutes))
	return e, nil
}

func (t *Tracker) enqueue(ctx context.Context, id string) {
	if t.outbox == nil {
		return
	}
	if _, err := t.outbox.Enqueue(ctx, jobs.TypeSyncTimeEntry, jobs.TimeEntryPayload{ID: id}, 0, 0); err != nil {
		t.logger.Warn("queue time entry sync", slog.String("entry_id", id), slog.String("error", err.Error()))
	}
}

// Active returns the running entry of the session technician, or nil.
func (t *Tracker) Active(ctx context.Context) (*models.TimeEntry, error) {
	tech, err := t.technician()
	if err != nil {
		return nil, err
	}
	return t.store.GetOpenTimeEntry(ctx, tech)
}

// Restore reloads state after a restart: it returns the running entry, if
// any, and queues closed entries that never reached the backend.
func (t *Tracker) Restore(ctx context.Context) (*models.TimeEntry, error) {
	entries, err := t.store.ListTimeEntries(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}
	requeued := 0
	for i := range entries {
		if !entries[i].Open() && !entries[i].Synced {
			t.enqueue(ctx, entries[i].ID)
			requeued++
		}
	}
	active, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	t.logger.Info("time tracking restored",
		slog.Bool("timer_running", active != nil),
		slog.Int("requeued", requeued))
	return active, nil
}

func (t *Tracker) Entries(ctx context.Context, workOrderID string) ([]models.TimeEntry, error) {
	return t.store.ListTimeEntries(ctx, workOrderID)
}

// Discard drops every unsynced local entry, used on app reset.
func (t *Tracker) Discard(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.store.DeleteUnsyncedTimeEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("discard time entries: %w", err)
	}
	t.logger.Info("unsynced time entries discarded", slog.Int64("count", n))
	return n, nil
}

package timetrack_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dbfs "github.com/garnizeh/fieldops/db"
	"github.com/garnizeh/fieldops/internal/db"
	"github.com/garnizeh/fieldops/internal/jobs"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/internal/timetrack"
	"github.com/garnizeh/fieldops/pkg/models"
	"github.com/garnizeh/fieldops/pkg/repository/mock"
)

type staticIdentity struct{ id session.Identity }

func (s staticIdentity) Identity() (session.Identity, error) { return s.id, nil }

type recordingOutbox struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingOutbox) Enqueue(ctx context.Context, typ string, payload any, priority, maxAttempts int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := payload.(jobs.TimeEntryPayload)
	r.jobs = append(r.jobs, typ+":"+p.ID)
	return int64(len(r.jobs)), nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTracker() (*timetrack.Tracker, *mock.Store, *recordingOutbox, *clock) {
	store := mock.NewStore()
	out := &recordingOutbox{}
	c := &clock{t: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	tr := timetrack.New(store, out, staticIdentity{session.Identity{TechnicianID: "t1", Subject: "u1"}}, nil).WithClock(c.now)
	return tr, store, out, c
}

func TestStartStop_NinetySeconds(t *testing.T) {
	tr, store, out, c := newTracker()
	ctx := context.Background()

	e, err := tr.StartTimer(ctx, "w1", models.ActivityWork)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if e.ID == "" || e.TechnicianID != "t1" || !e.Open() {
		t.Fatalf("unexpected entry %#v", e)
	}

	c.t = c.t.Add(90 * time.Second)
	done, err := tr.StopTimer(ctx, e.ID)
	if err != nil {
		t.Fatalf("StopTimer: %v", err)
	}
	if done.DurationMinutes == nil || *done.DurationMinutes != 1 {
		t.Fatalf("expected 1 minute, got %v", done.DurationMinutes)
	}
	if store.Entries[e.ID].EndTime == nil {
		t.Fatalf("close not persisted")
	}
	if len(out.jobs) != 1 || out.jobs[0] != jobs.TypeSyncTimeEntry+":"+e.ID {
		t.Fatalf("expected sync job, got %v", out.jobs)
	}

	if _, err := tr.StopTimer(ctx, e.ID); !errors.Is(err, timetrack.ErrTimerNotRunning) {
		t.Fatalf("second stop: expected ErrTimerNotRunning, got %v", err)
	}
	if _, err := tr.StopTimer(ctx, "missing"); !errors.Is(err, timetrack.ErrTimerNotRunning) {
		t.Fatalf("unknown id: expected ErrTimerNotRunning, got %v", err)
	}
	if len(out.jobs) != 1 {
		t.Fatalf("failed stops must not enqueue")
	}
}

func TestSecondStartIsRejected(t *testing.T) {
	tr, store, _, _ := newTracker()
	ctx := context.Background()

	first, err := tr.StartTimer(ctx, "w1", models.ActivityTravel)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	got, err := tr.StartTimer(ctx, "w2", models.ActivityWork)
	if !errors.Is(err, timetrack.ErrTimerRunning) {
		t.Fatalf("expected ErrTimerRunning, got %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected the running entry back, got %#v", got)
	}
	if len(store.Entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(store.Entries))
	}
	active, _ := tr.Active(ctx)
	if active == nil || active.ID != first.ID || active.WorkOrderID != "w1" {
		t.Fatalf("the first timer must stay active, got %#v", active)
	}
}

func TestDurationNeverNegative(t *testing.T) {
	tr, _, _, c := newTracker()
	ctx := context.Background()
	e, _ := tr.StartTimer(ctx, "w1", models.ActivityWork)
	c.t = c.t.Add(-5 * time.Minute)
	done, err := tr.StopTimer(ctx, e.ID)
	if err != nil {
		t.Fatalf("StopTimer: %v", err)
	}
	if *done.DurationMinutes != 0 {
		t.Fatalf("expected clamp to 0, got %d", *done.DurationMinutes)
	}
}

func TestStartTimer_Validation(t *testing.T) {
	tr, _, _, _ := newTracker()
	ctx := context.Background()
	if _, err := tr.StartTimer(ctx, "", models.ActivityWork); err == nil {
		t.Fatalf("expected error for empty work order")
	}
	if _, err := tr.StartTimer(ctx, "w1", models.ActivityType("lunch")); err == nil {
		t.Fatalf("expected error for unknown activity")
	}
}

func TestRestoreAndDiscard(t *testing.T) {
	tr, store, out, c := newTracker()
	ctx := context.Background()

	closed := models.TimeEntry{ID: "old", WorkOrderID: "w0", TechnicianID: "t1", ActivityType: models.ActivityWork, StartTime: c.t.Add(-time.Hour)}
	_ = closed.Close(c.t.Add(-30 * time.Minute))
	store.Entries["old"] = closed
	synced := models.TimeEntry{ID: "done", WorkOrderID: "w0", TechnicianID: "t1", ActivityType: models.ActivityWork, StartTime: c.t.Add(-2 * time.Hour), Synced: true}
	_ = synced.Close(c.t.Add(-90 * time.Minute))
	store.Entries["done"] = synced
	store.Entries["run"] = models.TimeEntry{ID: "run", WorkOrderID: "w1", TechnicianID: "t1", ActivityType: models.ActivityTravel, StartTime: c.t}

	active, err := tr.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if active == nil || active.ID != "run" {
		t.Fatalf("expected running entry restored, got %#v", active)
	}
	if len(out.jobs) != 1 || out.jobs[0] != jobs.TypeSyncTimeEntry+":old" {
		t.Fatalf("expected unsynced closed entry requeued, got %v", out.jobs)
	}

	list, _ := tr.Entries(ctx, "w0")
	if len(list) != 2 {
		t.Fatalf("expected 2 entries for w0, got %d", len(list))
	}

	n, err := tr.Discard(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 discarded, got %d, %v", n, err)
	}
	if _, ok := store.Entries["done"]; !ok {
		t.Fatalf("synced entry must survive discard")
	}
	if active, _ := tr.Active(ctx); active != nil {
		t.Fatalf("no timer should run after discard")
	}
}

func TestRestoreTwiceQueuesOneJob(t *testing.T) {
	ctx := context.Background()
	d, err := db.New(ctx, "file:restore_twice?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	queue := jobs.NewRepository(d)
	pool := jobs.NewWorkerPool(queue, nil, nil, jobs.PoolOptions{Workers: 1})

	store := mock.NewStore()
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	e := models.TimeEntry{ID: "e1", WorkOrderID: "w1", TechnicianID: "t1", ActivityType: models.ActivityWork, StartTime: start}
	_ = e.Close(start.Add(time.Hour))
	store.Entries["e1"] = e
	tr := timetrack.New(store, pool, staticIdentity{session.Identity{TechnicianID: "t1"}}, nil)

	for i := 0; i < 3; i++ {
		if _, err := tr.Restore(ctx); err != nil {
			t.Fatalf("Restore #%d: %v", i+1, err)
		}
	}
	if n, _ := queue.Pending(ctx); n != 1 {
		t.Fatalf("expected one pending sync job after repeated restores, got %d", n)
	}
}

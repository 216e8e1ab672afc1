package workflow_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/garnizeh/fieldops/internal/location"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/internal/workflow"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	requests  int
	statusErr error
	lastLoc   *models.Location
	lastNotes string
	techs     []models.Technician
	// nilBody makes mutations answer without a work order (204).
	nilBody bool
	fresh   map[string]*models.WorkOrder
	gets    int
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, id string, upd fieldops.StatusUpdate, loc *models.Location) (*models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.lastLoc = loc
	f.lastNotes = upd.Notes
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.nilBody {
		return nil, nil
	}
	// an empty JSON object; the controller applies the status
	return &models.WorkOrder{}, nil
}

func (f *fakeBackend) CheckIn(ctx context.Context, id string, loc models.Location) (*models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.lastLoc = &loc
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.nilBody {
		return nil, nil
	}
	return &models.WorkOrder{ID: id, Status: models.StatusOnSite, Title: "from server"}, nil
}

func (f *fakeBackend) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.gets++
	wo, ok := f.fresh[id]
	if !ok {
		return nil, &fieldops.HTTPError{StatusCode: http.StatusNotFound, Message: "Work order not found"}
	}
	return wo.Clone(), nil
}

func (f *fakeBackend) ListTechnicians(ctx context.Context) ([]models.Technician, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.techs, nil
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type fixture struct {
	backend *fakeBackend
	sess    *session.Session
	loc     *location.Tracker
	ctrl    *workflow.Controller
}

func newFixture(t *testing.T, opts workflow.Options, orders ...models.WorkOrder) *fixture {
	t.Helper()
	return newFixtureAs(t, jwt.MapClaims{"sub": "tech-1", "technician_id": "tech-1", "name": "Ana Souza"}, opts, orders...)
}

func newFixtureAs(t *testing.T, claims jwt.MapClaims, opts workflow.Options, orders ...models.WorkOrder) *fixture {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("x"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sess, err := session.Open(tok, time.Now())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := sess.ReplaceWorkOrders(orders, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fb := &fakeBackend{}
	loc := location.NewTracker(time.Minute)
	return &fixture{
		backend: fb,
		sess:    sess,
		loc:     loc,
		ctrl:    workflow.NewController(fb, sess, loc, nil, opts, nil),
	}
}

func (f *fixture) status(t *testing.T, id string) models.Status {
	t.Helper()
	wo, err := f.sess.WorkOrder(id)
	if err != nil {
		t.Fatalf("WorkOrder: %v", err)
	}
	return wo.Status
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]models.Status]bool{
		{models.StatusDraft, models.StatusScheduled}:      true,
		{models.StatusScheduled, models.StatusDispatched}: true,
		{models.StatusScheduled, models.StatusOnSite}:     true,
		{models.StatusDispatched, models.StatusOnSite}:    true,
		{models.StatusOnSite, models.StatusInProgress}:    true,
		{models.StatusInProgress, models.StatusCompleted}: true,
	}
	for _, s := range models.Statuses {
		if s.Terminal() {
			continue
		}
		allowed[[2]models.Status{s, models.StatusCancelled}] = true
		if s != models.StatusRequiresFollowup {
			allowed[[2]models.Status{s, models.StatusRequiresFollowup}] = true
		}
	}

	for _, from := range models.Statuses {
		for _, to := range models.Statuses {
			want := allowed[[2]models.Status{from, to}]
			if got := workflow.ValidTransition(from, to); got != want {
				t.Errorf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
		if from.Terminal() && len(workflow.Next(from)) != 0 {
			t.Errorf("terminal status %s has outgoing transitions %v", from, workflow.Next(from))
		}
	}
}

func TestCheckIn_UnassignedScheduledOrder(t *testing.T) {
	f := newFixture(t, workflow.Options{}, models.WorkOrder{ID: "w1", Status: models.StatusScheduled})
	events := f.ctrl.Events().Subscribe()
	defer f.ctrl.Events().Unsubscribe(events)

	if err := f.loc.Update(models.Location{Latitude: -23.5, Longitude: -46.6}); err != nil {
		t.Fatalf("location: %v", err)
	}
	wo, err := f.ctrl.CheckIn(context.Background(), "w1")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if wo.Status != models.StatusOnSite || f.status(t, "w1") != models.StatusOnSite {
		t.Fatalf("expected on_site, got %s", wo.Status)
	}
	if wo.Technician == nil || wo.Technician.ID != "tech-1" {
		t.Fatalf("expected work order bound to session technician, got %#v", wo.Technician)
	}
	if f.backend.lastLoc == nil || f.backend.lastLoc.Latitude != -23.5 {
		t.Fatalf("check-in location not sent: %#v", f.backend.lastLoc)
	}

	select {
	case e := <-events:
		if e.WorkOrderID != "w1" || e.From != models.StatusScheduled || e.To != models.StatusOnSite {
			t.Fatalf("unexpected event %#v", e)
		}
	default:
		t.Fatalf("expected a transition event")
	}

	_, err = f.ctrl.CheckIn(context.Background(), "w1")
	var inv *workflow.InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError on second check-in, got %v", err)
	}
	if inv.From != models.StatusOnSite || inv.To != models.StatusOnSite {
		t.Fatalf("unexpected error detail %#v", inv)
	}
	if f.backend.count() != 1 {
		t.Fatalf("refused check-in must not reach the backend, requests=%d", f.backend.count())
	}
}

func TestCheckIn_NoLocation(t *testing.T) {
	f := newFixture(t, workflow.Options{}, models.WorkOrder{ID: "w1", Status: models.StatusDispatched})

	_, err := f.ctrl.CheckIn(context.Background(), "w1")
	var lu *workflow.LocationUnavailableError
	if !errors.As(err, &lu) {
		t.Fatalf("expected LocationUnavailableError, got %v", err)
	}
	if f.status(t, "w1") != models.StatusDispatched {
		t.Fatalf("status must be unchanged")
	}
	if !f.loc.Pending() || f.loc.Requests() != 1 {
		t.Fatalf("expected a location request")
	}
	if f.backend.count() != 0 {
		t.Fatalf("expected no request, got %d", f.backend.count())
	}
}

func TestStartWork_SendsLocationWhenAvailable(t *testing.T) {
	tech := &models.TechnicianRef{ID: "tech-1"}
	f := newFixture(t, workflow.Options{},
		models.WorkOrder{ID: "w1", Status: models.StatusOnSite, Technician: tech},
		models.WorkOrder{ID: "w2", Status: models.StatusScheduled},
	)

	if _, err := f.ctrl.StartWork(context.Background(), "w1"); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if f.backend.lastLoc != nil {
		t.Fatalf("no location should be sent without a fix")
	}
	if f.status(t, "w1") != models.StatusInProgress {
		t.Fatalf("expected in_progress")
	}

	var inv *workflow.InvalidTransitionError
	if _, err := f.ctrl.StartWork(context.Background(), "w2"); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestCompleteWork_FullChecklist(t *testing.T) {
	items := []models.ChecklistItem{
		{ID: "a", Required: true}, {ID: "b", Required: true}, {ID: "c"}, {ID: "d"},
	}
	f := newFixture(t, workflow.Options{StrictChecklist: true}, models.WorkOrder{
		ID: "w1", Status: models.StatusInProgress, Technician: &models.TechnicianRef{ID: "tech-1"}, Checklist: items,
	})
	wo, _ := f.sess.WorkOrder("w1")
	for i := range wo.Checklist {
		wo.Checklist[i].Completed = true
	}
	if wo.RecomputeProgress() != 100 {
		t.Fatalf("expected 100 percent")
	}
	_ = f.sess.PutWorkOrder(wo)

	done, err := f.ctrl.CompleteWork(context.Background(), "w1", "all good")
	if err != nil {
		t.Fatalf("CompleteWork: %v", err)
	}
	if done.Status != models.StatusCompleted || done.ProgressPercentage != 100 {
		t.Fatalf("unexpected result %#v", done)
	}
	if f.backend.lastNotes != "all good" {
		t.Fatalf("notes not sent")
	}
}

func TestCompleteWork_ForcesProgress(t *testing.T) {
	f := newFixture(t, workflow.Options{}, models.WorkOrder{
		ID: "w1", Status: models.StatusInProgress, Technician: &models.TechnicianRef{ID: "tech-1"},
		Checklist: []models.ChecklistItem{
			{ID: "a", Required: true, Completed: true},
			{ID: "b", Required: true},
		},
		ProgressPercentage: 50,
	})
	f.backend.techs = []models.Technician{{ID: "tech-1", CurrentStatus: models.TechAvailable, IsAvailable: true}}

	done, err := f.ctrl.CompleteWork(context.Background(), "w1", "")
	if err != nil {
		t.Fatalf("CompleteWork: %v", err)
	}
	if done.Status != models.StatusCompleted || done.ProgressPercentage != 100 {
		t.Fatalf("expected completed at 100, got %s %d", done.Status, done.ProgressPercentage)
	}
	techs, _ := f.sess.Technicians()
	if len(techs) != 1 {
		t.Fatalf("technician cache should be refreshed after completion")
	}
}

func TestCompleteWork_StrictChecklistBlocks(t *testing.T) {
	f := newFixture(t, workflow.Options{StrictChecklist: true}, models.WorkOrder{
		ID: "w1", Status: models.StatusInProgress, Technician: &models.TechnicianRef{ID: "tech-1"},
		Checklist: []models.ChecklistItem{{ID: "a", Required: true}, {ID: "b"}},
	})

	_, err := f.ctrl.CompleteWork(context.Background(), "w1", "")
	var ic *workflow.IncompleteChecklistError
	if !errors.As(err, &ic) || len(ic.Outstanding) != 1 || ic.Outstanding[0] != "a" {
		t.Fatalf("expected IncompleteChecklistError for item a, got %v", err)
	}
	if f.backend.count() != 0 {
		t.Fatalf("blocked completion must not reach the backend")
	}
}

func TestTransition_ServerRejectionLeavesCache(t *testing.T) {
	f := newFixture(t, workflow.Options{}, models.WorkOrder{ID: "w1", Status: models.StatusOnSite, Technician: &models.TechnicianRef{ID: "tech-1"}})
	f.backend.statusErr = &fieldops.HTTPError{StatusCode: http.StatusConflict, Message: "Work order is locked by dispatcher"}

	_, err := f.ctrl.StartWork(context.Background(), "w1")
	var he *fieldops.HTTPError
	if !errors.As(err, &he) || he.Error() != "Work order is locked by dispatcher" {
		t.Fatalf("expected verbatim server message, got %v", err)
	}
	if f.status(t, "w1") != models.StatusOnSite {
		t.Fatalf("cache must be unchanged after rejection")
	}
}

func TestAdministrativeExits(t *testing.T) {
	f := newFixture(t, workflow.Options{},
		models.WorkOrder{ID: "d1", Status: models.StatusDraft},
		models.WorkOrder{ID: "c1", Status: models.StatusCompleted, Technician: &models.TechnicianRef{ID: "t"}},
		models.WorkOrder{ID: "f1", Status: models.StatusDispatched},
	)
	ctx := context.Background()

	if _, err := f.ctrl.Advance(ctx, "d1", models.StatusScheduled, ""); err != nil {
		t.Fatalf("draft -> scheduled: %v", err)
	}
	if _, err := f.ctrl.Advance(ctx, "d1", models.StatusDispatched, ""); err != nil {
		t.Fatalf("scheduled -> dispatched: %v", err)
	}
	if f.status(t, "d1") != models.StatusDispatched {
		t.Fatalf("expected dispatched")
	}

	var inv *workflow.InvalidTransitionError
	if _, err := f.ctrl.Cancel(ctx, "c1", "duplicate"); !errors.As(err, &inv) {
		t.Fatalf("cancelling a completed order must fail, got %v", err)
	}
	if _, err := f.ctrl.Advance(ctx, "d1", models.StatusDraft, ""); !errors.As(err, &inv) {
		t.Fatalf("moving back to draft must fail, got %v", err)
	}

	if _, err := f.ctrl.RequireFollowup(ctx, "f1", "parts missing"); err != nil {
		t.Fatalf("RequireFollowup: %v", err)
	}
	if _, err := f.ctrl.RequireFollowup(ctx, "f1", "again"); !errors.As(err, &inv) {
		t.Fatalf("follow-up to follow-up must fail, got %v", err)
	}
	if _, err := f.ctrl.Cancel(ctx, "f1", "customer moved"); err != nil {
		t.Fatalf("Cancel from follow-up: %v", err)
	}
	if f.status(t, "f1") != models.StatusCancelled {
		t.Fatalf("expected cancelled")
	}
}

func TestTransitions_NoResponseBodyAppliesStatus(t *testing.T) {
	tech := &models.TechnicianRef{ID: "tech-1"}
	f := newFixture(t, workflow.Options{},
		models.WorkOrder{ID: "w1", Status: models.StatusDispatched, Technician: tech,
			Checklist: []models.ChecklistItem{{ID: "a"}, {ID: "b"}}},
		models.WorkOrder{ID: "w2", Status: models.StatusScheduled},
	)
	f.backend.nilBody = true
	ctx := context.Background()
	if err := f.loc.Update(models.Location{Latitude: 1, Longitude: 1}); err != nil {
		t.Fatalf("location: %v", err)
	}

	steps := []struct {
		run  func() (*models.WorkOrder, error)
		want models.Status
	}{
		{func() (*models.WorkOrder, error) { return f.ctrl.CheckIn(ctx, "w1") }, models.StatusOnSite},
		{func() (*models.WorkOrder, error) { return f.ctrl.StartWork(ctx, "w1") }, models.StatusInProgress},
		{func() (*models.WorkOrder, error) { return f.ctrl.CompleteWork(ctx, "w1", "") }, models.StatusCompleted},
	}
	for _, st := range steps {
		wo, err := st.run()
		if err != nil {
			t.Fatalf("%s: %v", st.want, err)
		}
		if wo.Status != st.want || f.status(t, "w1") != st.want {
			t.Fatalf("expected %s, got %s (cached %s)", st.want, wo.Status, f.status(t, "w1"))
		}
	}
	done, _ := f.sess.WorkOrder("w1")
	if done.ProgressPercentage != 100 || len(done.Checklist) != 2 || done.Technician == nil {
		t.Fatalf("completed order lost data: %#v", done)
	}

	if _, err := f.ctrl.Cancel(ctx, "w2", "duplicate"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if f.status(t, "w2") != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", f.status(t, "w2"))
	}
}

func TestCheckIn_WithoutTechnicianRefetches(t *testing.T) {
	dispatcher := jwt.MapClaims{"sub": "disp-1", "role": "dispatcher"}
	f := newFixtureAs(t, dispatcher, workflow.Options{},
		models.WorkOrder{ID: "w1", Status: models.StatusScheduled},
		models.WorkOrder{ID: "w2", Status: models.StatusScheduled},
	)
	f.backend.fresh = map[string]*models.WorkOrder{
		"w1": {ID: "w1", Status: models.StatusOnSite, Technician: &models.TechnicianRef{ID: "tech-7", FullName: "Rui"}},
		"w2": {ID: "w2", Status: models.StatusOnSite},
	}
	if err := f.loc.Update(models.Location{Latitude: 1, Longitude: 1}); err != nil {
		t.Fatalf("location: %v", err)
	}
	ctx := context.Background()

	wo, err := f.ctrl.CheckIn(ctx, "w1")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if wo.Technician == nil || wo.Technician.ID != "tech-7" || f.backend.gets != 1 {
		t.Fatalf("expected technician from re-fetch, got %#v after %d gets", wo.Technician, f.backend.gets)
	}

	_, err = f.ctrl.CheckIn(ctx, "w2")
	var is *workflow.InconsistentStateError
	if !errors.As(err, &is) || is.WorkOrderID != "w2" {
		t.Fatalf("expected InconsistentStateError, got %v", err)
	}
	cached, _ := f.sess.WorkOrder("w2")
	if cached.Status != models.StatusScheduled || cached.Technician != nil {
		t.Fatalf("unassigned on-site order must not be cached: %#v", cached)
	}
}

func TestUnknownWorkOrder(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	if _, err := f.ctrl.StartWork(context.Background(), "nope"); !errors.Is(err, session.ErrWorkOrderNotFound) {
		t.Fatalf("expected ErrWorkOrderNotFound, got %v", err)
	}
}

func TestBroker_CloseAndUnsubscribe(t *testing.T) {
	b := workflow.NewBroker()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Unsubscribe(a)
	b.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Fatalf("unsubscribed channel should be closed")
	}
	b.Publish(workflow.Event{WorkOrderID: "w"})
	if e := <-c; e.WorkOrderID != "w" {
		t.Fatalf("unexpected event %#v", e)
	}
	b.Close()
	b.Close()
	if _, ok := <-c; ok {
		t.Fatalf("channel should be closed after Close")
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
}

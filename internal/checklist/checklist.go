package checklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/fieldops/internal/jobs"
	"github.com/garnizeh/fieldops/pkg/models"
	"github.com/garnizeh/fieldops/pkg/repository"
)

var (
	ErrItemNotFound = errors.New("checklist item not found")
	// ErrWorkOrderClosed is returned for edits to completed or cancelled orders.
	ErrWorkOrderClosed = errors.New("work order is closed")
)

type Cache interface {
	WorkOrder(id string) (*models.WorkOrder, error)
	PutWorkOrder(wo *models.WorkOrder) error
}

type Store interface {
	repository.ChecklistRepo
	repository.EvidenceRepo
}

type Enqueuer interface {
	Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error)
}

// Tracker owns checklist completion and evidence for cached work orders.
// Edits are kept locally and pushed through the outbox.
type Tracker struct {
	mu     sync.Mutex
	cache  Cache
	store  Store
	outbox Enqueuer
	now    func() time.Time
	logger *slog.Logger
}

func New(cache Cache, store Store, outbox Enqueuer, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{cache: cache, store: store, outbox: outbox, now: time.Now, logger: logger}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// ToggleItem sets the completion flag of one item and returns the new
// progress percentage.
func (t *Tracker) ToggleItem(ctx context.Context, workOrderID, itemID string, completed bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wo, err := t.editable(workOrderID)
	if err != nil {
		return 0, err
	}
	item, ok := wo.Item(itemID)
	if !ok {
		return 0, fmt.Errorf("work order %s item %s: %w", workOrderID, itemID, ErrItemNotFound)
	}
	item.Completed = completed
	progress := wo.RecomputeProgress()

	edit := &models.ChecklistEdit{WorkOrderID: workOrderID, ItemID: itemID, Completed: completed, UpdatedAt: t.now().UTC()}
	if err := t.store.SaveChecklistEdit(ctx, edit); err != nil {
		return 0, fmt.Errorf("save checklist edit: %w", err)
	}
	if err := t.cache.PutWorkOrder(wo); err != nil {
		return 0, err
	}
	t.enqueue(ctx, jobs.TypeSyncChecklistItem, jobs.ChecklistItemPayload{WorkOrderID: workOrderID, ItemID: itemID})

	t.logger.Info("checklist item toggled",
		slog.String("work_order_id", workOrderID),
		slog.String("item_id", itemID),
		slog.Bool("completed", completed),
		slog.Int("progress", progress))
	return progress, nil
}

// AttachEvidence stores evidence for an item. Completion is not changed.
func (t *Tracker) AttachEvidence(ctx context.Context, workOrderID, itemID string, ev models.Evidence) (*models.Evidence, error) {
	if err := validateEvidence(&ev); err != nil {
		return nil, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = t.now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wo, err := t.editable(workOrderID)
	if err != nil {
		return nil, err
	}
	item, ok := wo.Item(itemID)
	if !ok {
		return nil, fmt.Errorf("work order %s item %s: %w", workOrderID, itemID, ErrItemNotFound)
	}

	rec := &models.EvidenceRecord{WorkOrderID: workOrderID, ItemID: itemID, Evidence: *ev.Clone()}
	if err := t.store.SaveEvidence(ctx, rec); err != nil {
		return nil, fmt.Errorf("save evidence: %w", err)
	}
	item.Evidence = ev.Clone()
	if err := t.cache.PutWorkOrder(wo); err != nil {
		return nil, err
	}
	t.enqueue(ctx, jobs.TypeSyncEvidence, jobs.EvidencePayload{ID: ev.ID})

	t.logger.Info("evidence attached",
		slog.String("work_order_id", workOrderID),
		slog.String("item_id", itemID),
		slog.String("kind", string(ev.Kind)))
	return &ev, nil
}

func (t *Tracker) editable(workOrderID string) (*models.WorkOrder, error) {
	wo, err := t.cache.WorkOrder(workOrderID)
	if err != nil {
		return nil, err
	}
	if wo.Status.Terminal() {
		return nil, fmt.Errorf("work order %s is %s: %w", workOrderID, wo.Status, ErrWorkOrderClosed)
	}
	return wo, nil
}

func validateEvidence(ev *models.Evidence) error {
	switch ev.Kind {
	case models.EvidencePhoto, models.EvidenceSignature:
		if len(ev.Payload) == 0 {
			return fmt.Errorf("%s evidence needs a payload", ev.Kind)
		}
		return nil
	case models.EvidenceMeasurement:
		if ev.Value == nil {
			return errors.New("measurement evidence needs a value")
		}
		return nil
	}
	return fmt.Errorf("unknown evidence kind %q", ev.Kind)
}

// OutstandingRequired lists the required items of wo that are not done.
func OutstandingRequired(wo *models.WorkOrder) []models.ChecklistItem {
	return wo.OutstandingRequired()
}

// Progress returns the current percentage of a cached work order.
func (t *Tracker) Progress(workOrderID string) (int, error) {
	wo, err := t.cache.WorkOrder(workOrderID)
	if err != nil {
		return 0, err
	}
	if len(wo.Checklist) == 0 {
		return wo.ProgressPercentage, nil
	}
	return wo.RecomputeProgress(), nil
}

// Overlay applies unsynced local edits to freshly fetched work orders so a
// refresh does not undo work the backend has not seen yet.
func (t *Tracker) Overlay(ctx context.Context, orders []models.WorkOrder) error {
	for i := range orders {
		if len(orders[i].Checklist) == 0 {
			continue
		}
		edits, err := t.store.ListChecklistEdits(ctx, orders[i].ID)
		if err != nil {
			return fmt.Errorf("list checklist edits: %w", err)
		}
		changed := false
		for _, e := range edits {
			if e.Synced {
				continue
			}
			if item, ok := orders[i].Item(e.ItemID); ok && item.Completed != e.Completed {
				item.Completed = e.Completed
				changed = true
			}
		}
		if changed {
			orders[i].RecomputeProgress()
		}
	}
	return nil
}

// Discard drops unsynced checklist edits and evidence, used on app reset.
// The next refresh brings the cached checklists back to the server's state.
func (t *Tracker) Discard(ctx context.Context) (edits, evidence int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if edits, err = t.store.DeleteUnsyncedChecklistEdits(ctx); err != nil {
		return 0, 0, fmt.Errorf("discard checklist edits: %w", err)
	}
	if evidence, err = t.store.DeleteUnsyncedEvidence(ctx); err != nil {
		return edits, 0, fmt.Errorf("discard evidence: %w", err)
	}
	t.logger.Info("unsynced checklist data discarded",
		slog.Int64("edits", edits),
		slog.Int64("evidence", evidence))
	return edits, evidence, nil
}

func (t *Tracker) enqueue(ctx context.Context, typ string, payload any) {
	if t.outbox == nil {
		return
	}
	if _, err := t.outbox.Enqueue(ctx, typ, payload, 0, 0); err != nil {
		t.logger.Warn("queue checklist sync", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

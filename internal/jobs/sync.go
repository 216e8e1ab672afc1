package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/garnizeh/fieldops/internal/evidence"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
	"github.com/garnizeh/fieldops/pkg/repository"
)

// SyncBackend is the part of the API that accepts client-owned data.
type SyncBackend interface {
	SubmitTimeEntry(ctx context.Context, e models.TimeEntry) error
	UpdateChecklistItem(ctx context.Context, workOrderID, itemID string, upd fieldops.ChecklistUpdate) error
	SubmitEvidence(ctx context.Context, workOrderID string, up fieldops.EvidenceUpload) error
}

type TimeEntryPayload struct {
	ID string `json:"id"`
}

type ChecklistItemPayload struct {
	WorkOrderID string `json:"work_order_id"`
	ItemID      string `json:"item_id"`
}

type EvidencePayload struct {
	ID string `json:"id"`
}

// Syncer pushes local rows to the backend and marks them synced.
type Syncer struct {
	backend SyncBackend
	store   repository.LocalStore
	// objects is optional; without it evidence travels inline.
	objects evidence.Store
	logger  *slog.Logger
}

func NewSyncer(backend SyncBackend, store repository.LocalStore, objects evidence.Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{backend: backend, store: store, objects: objects, logger: logger}
}

// Handlers returns the job handlers keyed by job type.
func (s *Syncer) Handlers() map[string]Handler {
	return map[string]Handler{
		TypeSyncTimeEntry:     s.syncTimeEntry,
		TypeSyncChecklistItem: s.syncChecklistItem,
		TypeSyncEvidence:      s.syncEvidence,
	}
}

func decode(j *Job, v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Type, err))
	}
	return nil
}

// classify turns client-side rejections into permanent failures. Network
// errors, 5xx and an open circuit stay retryable.
func classify(err error) error {
	var he *fieldops.HTTPError
	if errors.As(err, &he) && he.StatusCode < 500 && he.StatusCode != 429 {
		return Permanent(err)
	}
	var ve *fieldops.ValidationError
	if errors.As(err, &ve) {
		return Permanent(err)
	}
	return err
}

func (s *Syncer) syncTimeEntry(ctx context.Context, j *Job) error {
	var p TimeEntryPayload
	if err := decode(j, &p); err != nil {
		return err
	}
	e, err := s.store.GetTimeEntry(ctx, p.ID)
	if err != nil {
		return err
	}
	if e == nil || e.Synced {
		s.logger.Debug("time entry gone or already synced", slog.String("id", p.ID))
		return nil
	}
	if e.Open() {
		return Permanent(fmt.Errorf("time entry %s is still running", e.ID))
	}
	if err := s.backend.SubmitTimeEntry(ctx, *e); err != nil {
		return classify(err)
	}
	return s.store.MarkTimeEntrySynced(ctx, e.ID)
}

func (s *Syncer) syncChecklistItem(ctx context.Context, j *Job) error {
	var p ChecklistItemPayload
	if err := decode(j, &p); err != nil {
		return err
	}
	edit, err := s.store.GetChecklistEdit(ctx, p.WorkOrderID, p.ItemID)
	if err != nil {
		return err
	}
	if edit == nil || edit.Synced {
		return nil
	}
	upd := fieldops.ChecklistUpdate{Completed: edit.Completed, UpdatedAt: edit.UpdatedAt}
	if err := s.backend.UpdateChecklistItem(ctx, edit.WorkOrderID, edit.ItemID, upd); err != nil {
		return classify(err)
	}
	return s.store.MarkChecklistEditSynced(ctx, edit.WorkOrderID, edit.ItemID, edit.UpdatedAt)
}

func (s *Syncer) syncEvidence(ctx context.Context, j *Job) error {
	var p EvidencePayload
	if err := decode(j, &p); err != nil {
		return err
	}
	rec, err := s.store.GetEvidence(ctx, p.ID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Synced {
		return nil
	}

	ev := rec.Evidence
	if s.objects != nil && ev.Kind.Binary() && len(ev.Payload) > 0 {
		if ev.ObjectKey == "" {
			key := evidence.ObjectKey(rec.WorkOrderID, rec.ItemID, ev.ID)
			stored, err := s.objects.Put(ctx, key, ev.ContentType, bytes.NewReader(ev.Payload), int64(len(ev.Payload)))
			if err != nil {
				return err
			}
			if err := s.store.SetEvidenceObjectKey(ctx, ev.ID, stored); err != nil {
				return err
			}
			ev.ObjectKey = stored
		}
		ev.Payload = nil
	}

	if err := s.backend.SubmitEvidence(ctx, rec.WorkOrderID, fieldops.EvidenceUpload{ItemID: rec.ItemID, Evidence: ev}); err != nil {
		return classify(err)
	}
	return s.store.MarkEvidenceSynced(ctx, ev.ID)
}

package repository

import (
	"context"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

// Repository interfaces for client-owned data. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

type TimeEntryRepo interface {
	CreateTimeEntry(ctx context.Context, e *models.TimeEntry) error
	// CloseTimeEntry persists EndTime and DurationMinutes of an open entry.
	CloseTimeEntry(ctx context.Context, e *models.TimeEntry) error
	GetTimeEntry(ctx context.Context, id string) (*models.TimeEntry, error)
	GetOpenTimeEntry(ctx context.Context, technicianID string) (*models.TimeEntry, error)
	// ListTimeEntries returns entries for workOrderID, or all entries when empty.
	ListTimeEntries(ctx context.Context, workOrderID string) ([]models.TimeEntry, error)
	MarkTimeEntrySynced(ctx context.Context, id string) error
	DeleteUnsyncedTimeEntries(ctx context.Context) (int64, error)
}

type ChecklistRepo interface {
	SaveChecklistEdit(ctx context.Context, e *models.ChecklistEdit) error
	GetChecklistEdit(ctx context.Context, workOrderID, itemID string) (*models.ChecklistEdit, error)
	ListChecklistEdits(ctx context.Context, workOrderID string) ([]models.ChecklistEdit, error)
	// MarkChecklistEditSynced flags the edit as synced only if it has not
	// changed since updatedAt.
	MarkChecklistEditSynced(ctx context.Context, workOrderID, itemID string, updatedAt time.Time) error
	DeleteUnsyncedChecklistEdits(ctx context.Context) (int64, error)
}

type EvidenceRepo interface {
	SaveEvidence(ctx context.Context, r *models.EvidenceRecord) error
	GetEvidence(ctx context.Context, id string) (*models.EvidenceRecord, error)
	SetEvidenceObjectKey(ctx context.Context, id, objectKey string) error
	MarkEvidenceSynced(ctx context.Context, id string) error
	DeleteUnsyncedEvidence(ctx context.Context) (int64, error)
}

// LocalStore groups every client-owned repository.
type LocalStore interface {
	TimeEntryRepo
	ChecklistRepo
	EvidenceRepo
}

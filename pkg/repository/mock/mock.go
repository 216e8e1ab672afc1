package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
	"github.com/garnizeh/fieldops/pkg/repository"
)

var _ repository.LocalStore = (*Store)(nil)

// Store is an in-memory LocalStore for tests. Setting an Err field makes the
// matching write fail.
type Store struct {
	mu        sync.Mutex
	Entries   map[string]models.TimeEntry
	Edits     map[string]models.ChecklistEdit
	Evidence  map[string]models.EvidenceRecord
	CreateErr error
	SaveErr   error
}

func NewStore() *Store {
	return &Store{
		Entries:  make(map[string]models.TimeEntry),
		Edits:    make(map[string]models.ChecklistEdit),
		Evidence: make(map[string]models.EvidenceRecord),
	}
}

func editKey(workOrderID, itemID string) string { return workOrderID + "/" + itemID }

func (s *Store) CreateTimeEntry(ctx context.Context, e *models.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.Entries[e.ID] = *e
	return nil
}

func (s *Store) CloseTimeEntry(ctx context.Context, e *models.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.Entries[e.ID]
	if !ok || cur.EndTime != nil {
		return models.ErrTimeEntryClosed
	}
	cur.EndTime = e.EndTime
	cur.DurationMinutes = e.DurationMinutes
	s.Entries[e.ID] = cur
	return nil
}

func (s *Store) GetTimeEntry(ctx context.Context, id string) (*models.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.Entries[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *Store) GetOpenTimeEntry(ctx context.Context, technicianID string) (*models.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.Entries {
		if e.TechnicianID == technicianID && e.EndTime == nil {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListTimeEntries(ctx context.Context, workOrderID string) ([]models.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TimeEntry
	for _, e := range s.Entries {
		if workOrderID == "" || e.WorkOrderID == workOrderID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) MarkTimeEntrySynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.Entries[id]; ok {
		e.Synced = true
		s.Entries[id] = e
	}
	return nil
}

func (s *Store) DeleteUnsyncedTimeEntries(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.Entries {
		if !e.Synced {
			delete(s.Entries, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveChecklistEdit(ctx context.Context, e *models.ChecklistEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	c := *e
	c.Synced = false
	s.Edits[editKey(e.WorkOrderID, e.ItemID)] = c
	return nil
}

func (s *Store) GetChecklistEdit(ctx context.Context, workOrderID, itemID string) (*models.ChecklistEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.Edits[editKey(workOrderID, itemID)]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *Store) ListChecklistEdits(ctx context.Context, workOrderID string) ([]models.ChecklistEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChecklistEdit
	for _, e := range s.Edits {
		if e.WorkOrderID == workOrderID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) MarkChecklistEditSynced(ctx context.Context, workOrderID, itemID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := editKey(workOrderID, itemID)
	if e, ok := s.Edits[k]; ok && e.UpdatedAt.Equal(updatedAt) {
		e.Synced = true
		s.Edits[k] = e
	}
	return nil
}

func (s *Store) DeleteUnsyncedChecklistEdits(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.Edits {
		if !e.Synced {
			delete(s.Edits, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveEvidence(ctx context.Context, r *models.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Evidence[r.Evidence.ID] = *r
	return nil
}

func (s *Store) GetEvidence(ctx context.Context, id string) (*models.EvidenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.Evidence[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *Store) SetEvidenceObjectKey(ctx context.Context, id, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.Evidence[id]; ok {
		r.Evidence.ObjectKey = objectKey
		s.Evidence[id] = r
	}
	return nil
}

func (s *Store) MarkEvidenceSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.Evidence[id]; ok {
		r.Synced = true
		s.Evidence[id] = r
	}
	return nil
}

func (s *Store) DeleteUnsyncedEvidence(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.Evidence {
		if !r.Synced {
			delete(s.Evidence, id)
			n++
		}
	}
	return n, nil
}

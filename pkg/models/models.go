package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Domain models for the field-operations API. WorkOrder and Technician are
// owned by the backend; TimeEntry and checklist edits are owned locally until
// synced.

const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04"
	TimeLayoutFull  = "15:04:05"
	ProgressMax     = 100
	maxJobRating    = 5.0
	maxWorkloadPerc = 100
)

var ErrTimeEntryClosed = errors.New("time entry already closed")

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// TechnicianRef is the technician summary embedded in a work order.
type TechnicianRef struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

type Evidence struct {
	ID          string       `json:"id,omitempty"`
	Kind        EvidenceKind `json:"kind"`
	Payload     []byte       `json:"payload,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	ObjectKey   string       `json:"object_key,omitempty"`
	Value       *float64     `json:"value,omitempty"`
	Unit        string       `json:"unit,omitempty"`
	CapturedAt  time.Time    `json:"captured_at"`
}

type ChecklistItem struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Required  bool      `json:"required"`
	Evidence  *Evidence `json:"evidence,omitempty"`
}

type WorkOrder struct {
	ID                 string          `json:"id"`
	WorkOrderNumber    string          `json:"work_order_number"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Type               WorkOrderType   `json:"work_order_type"`
	Priority           Priority        `json:"priority"`
	Status             Status          `json:"status"`
	ScheduledDate      string          `json:"scheduled_date,omitempty"`
	ScheduledTimeStart string          `json:"scheduled_time_start,omitempty"`
	EstimatedDuration  int             `json:"estimated_duration,omitempty"`
	Technician         *TechnicianRef  `json:"technician"`
	ProgressPercentage int             `json:"progress_percentage"`
	IsOverdue          bool            `json:"is_overdue"`
	CustomerID         string          `json:"customer_id,omitempty"`
	CustomerName       string          `json:"customer_name,omitempty"`
	CustomerPhone      string          `json:"customer_phone,omitempty"`
	CustomerEmail      string          `json:"customer_email,omitempty"`
	ServiceAddress     string          `json:"service_address,omitempty"`
	AccessInstructions string          `json:"access_instructions,omitempty"`
	ServiceLocation    *Location       `json:"service_location,omitempty"`
	Checklist          []ChecklistItem `json:"checklist_items,omitempty"`
}

// RecomputeProgress derives ProgressPercentage from the checklist. Required
// and optional items both count. Without a checklist the stored value is kept.
func (w *WorkOrder) RecomputeProgress() int {
	total := len(w.Checklist)
	if total == 0 {
		return w.ProgressPercentage
	}
	done := 0
	for _, it := range w.Checklist {
		if it.Completed {
			done++
		}
	}
	w.ProgressPercentage = ProgressMax * done / total
	return w.ProgressPercentage
}

// Item returns the checklist item with the given id.
func (w *WorkOrder) Item(id string) (*ChecklistItem, bool) {
	for i := range w.Checklist {
		if w.Checklist[i].ID == id {
			return &w.Checklist[i], true
		}
	}
	return nil, false
}

// OutstandingRequired lists required checklist items that are not completed.
func (w *WorkOrder) OutstandingRequired() []ChecklistItem {
	var out []ChecklistItem
	for _, it := range w.Checklist {
		if it.Required && !it.Completed {
			out = append(out, it)
		}
	}
	return out
}

// ScheduledStart combines ScheduledDate and ScheduledTimeStart in loc. A
// missing start time means the end of the scheduled day.
func (w *WorkOrder) ScheduledStart(loc *time.Location) (time.Time, bool) {
	if w.ScheduledDate == "" {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(DateLayout, w.ScheduledDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	if w.ScheduledTimeStart == "" {
		return day.Add(24*time.Hour - time.Second), true
	}
	for _, layout := range []string{TimeLayoutFull, TimeLayout} {
		if t, err := time.ParseInLocation(layout, w.ScheduledTimeStart, loc); err == nil {
			return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second), true
		}
	}
	return time.Time{}, false
}

// Overdue reports whether the scheduled start has passed without the work
// order reaching a terminal state.
func (w *WorkOrder) Overdue(now time.Time) bool {
	if w.Status.Terminal() {
		return false
	}
	start, ok := w.ScheduledStart(now.Location())
	if !ok {
		return false
	}
	return now.After(start)
}

// Validate checks the invariants the client relies on.
func (w *WorkOrder) Validate() error {
	if w.ID == "" {
		return errors.New("work order id is empty")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("work order %s: invalid status %q", w.ID, w.Status)
	}
	if !w.Priority.Valid() {
		return fmt.Errorf("work order %s: invalid priority %q", w.ID, w.Priority)
	}
	if w.ProgressPercentage < 0 || w.ProgressPercentage > ProgressMax {
		return fmt.Errorf("work order %s: progress %d out of range", w.ID, w.ProgressPercentage)
	}
	if w.Technician == nil && w.Status.RequiresTechnician() {
		return fmt.Errorf("work order %s: status %s requires an assigned technician", w.ID, w.Status)
	}
	return nil
}

// Clone returns a deep copy of w.
func (w *WorkOrder) Clone() *WorkOrder {
	if w == nil {
		return nil
	}
	c := *w
	if w.Technician != nil {
		t := *w.Technician
		c.Technician = &t
	}
	if w.ServiceLocation != nil {
		l := *w.ServiceLocation
		c.ServiceLocation = &l
	}
	if w.Checklist != nil {
		c.Checklist = make([]ChecklistItem, len(w.Checklist))
		for i, it := range w.Checklist {
			c.Checklist[i] = it
			if it.Evidence != nil {
				c.Checklist[i].Evidence = it.Evidence.Clone()
			}
		}
	}
	return &c
}

func (e *Evidence) Clone() *Evidence {
	if e == nil {
		return nil
	}
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Value != nil {
		v := *e.Value
		c.Value = &v
	}
	return &c
}

type Technician struct {
	ID                 string           `json:"id"`
	FullName           string           `json:"full_name"`
	Email              string           `json:"email,omitempty"`
	Phone              string           `json:"phone,omitempty"`
	SkillLevel         string           `json:"skill_level,omitempty"`
	CurrentStatus      TechnicianStatus `json:"current_status"`
	IsAvailable        bool             `json:"is_available"`
	CurrentWorkload    int              `json:"current_workload"`
	JobsCompletedToday int              `json:"jobs_completed_today"`
	AverageJobRating   *float64         `json:"average_job_rating,omitempty"`
	CurrentLocation    *Location        `json:"current_location,omitempty"`
	LastActive         *time.Time       `json:"last_active,omitempty"`
}

// UnmarshalJSON decodes a technician and keeps IsAvailable consistent with
// CurrentStatus, clamping the numeric fields into range.
func (t *Technician) UnmarshalJSON(b []byte) error {
	type plain Technician
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Technician(p)
	t.normalize()
	return nil
}

func (t *Technician) normalize() {
	t.IsAvailable = t.CurrentStatus == TechAvailable
	if t.CurrentWorkload < 0 {
		t.CurrentWorkload = 0
	}
	if t.CurrentWorkload > maxWorkloadPerc {
		t.CurrentWorkload = maxWorkloadPerc
	}
	if t.JobsCompletedToday < 0 {
		t.JobsCompletedToday = 0
	}
	if t.AverageJobRating != nil && (*t.AverageJobRating < 0 || *t.AverageJobRating > maxJobRating) {
		t.AverageJobRating = nil
	}
}

// Ref returns the summary embedded in work orders assigned to t.
func (t *Technician) Ref() *TechnicianRef {
	return &TechnicianRef{ID: t.ID, FullName: t.FullName, Phone: t.Phone}
}

func (t *Technician) Clone() *Technician {
	if t == nil {
		return nil
	}
	c := *t
	if t.AverageJobRating != nil {
		r := *t.AverageJobRating
		c.AverageJobRating = &r
	}
	if t.CurrentLocation != nil {
		l := *t.CurrentLocation
		c.CurrentLocation = &l
	}
	if t.LastActive != nil {
		la := *t.LastActive
		c.LastActive = &la
	}
	return &c
}

// TimeEntry is technician-reported time against a work order.
type TimeEntry struct {
	ID              string       `json:"id"`
	WorkOrderID     string       `json:"work_order_id"`
	TechnicianID    string       `json:"technician_id,omitempty"`
	ActivityType    ActivityType `json:"activity_type"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	DurationMinutes *int         `json:"duration_minutes,omitempty"`
	Synced          bool         `json:"-"`
}

func (e *TimeEntry) Open() bool { return e.EndTime == nil }

// Close ends the entry at end. Duration is whole elapsed minutes, never
// negative. An entry can only be closed once.
func (e *TimeEntry) Close(end time.Time) error {
	if e.EndTime != nil {
		return ErrTimeEntryClosed
	}
	mins := int(end.Sub(e.StartTime) / time.Minute)
	if mins < 0 {
		mins = 0
	}
	e.EndTime = &end
	e.DurationMinutes = &mins
	return nil
}

type TechnicianCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	OnJob     int `json:"on_job"`
	Traveling int `json:"traveling"`
	OffDuty   int `json:"off_duty"`
}

type DashboardSummary struct {
	TotalWorkOrders int              `json:"total_work_orders"`
	ByStatus        map[Status]int   `json:"by_status"`
	ByPriority      map[Priority]int `json:"by_priority"`
	OverdueCount    int              `json:"overdue_count"`
	Technicians     TechnicianCounts `json:"technicians"`
}

// Summarize computes a DashboardSummary from cached lists.
func Summarize(orders []WorkOrder, techs []Technician, now time.Time) DashboardSummary {
	s := DashboardSummary{
		TotalWorkOrders: len(orders),
		ByStatus:        make(map[Status]int),
		ByPriority:      make(map[Priority]int),
	}
	for i := range orders {
		s.ByStatus[orders[i].Status]++
		s.ByPriority[orders[i].Priority]++
		if orders[i].IsOverdue || orders[i].Overdue(now) {
			s.OverdueCount++
		}
	}
	s.Technicians.Total = len(techs)
	for _, t := range techs {
		switch t.CurrentStatus {
		case TechAvailable:
			s.Technicians.Available++
		case TechOnJob:
			s.Technicians.OnJob++
		case TechTraveling:
			s.Technicians.Traveling++
		case TechOffDuty:
			s.Technicians.OffDuty++
		}
	}
	return s
}

// ChecklistEdit is the latest local completion change for one item.
type ChecklistEdit struct {
	WorkOrderID string    `json:"work_order_id"`
	ItemID      string    `json:"item_id"`
	Completed   bool      `json:"completed"`
	UpdatedAt   time.Time `json:"updated_at"`
	Synced      bool      `json:"-"`
}

// EvidenceRecord is evidence captured locally for a checklist item.
type EvidenceRecord struct {
	WorkOrderID string   `json:"work_order_id"`
	ItemID      string   `json:"item_id"`
	Evidence    Evidence `json:"evidence"`
	Synced      bool     `json:"-"`
}

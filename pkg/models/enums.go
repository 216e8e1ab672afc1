package models

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a work order.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusScheduled        Status = "scheduled"
	StatusDispatched       Status = "dispatched"
	StatusOnSite           Status = "on_site"
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusRequiresFollowup Status = "requires_followup"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDraft,
	StatusScheduled,
	StatusDispatched,
	StatusOnSite,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusRequiresFollowup,
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusDispatched, StatusOnSite,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusRequiresFollowup:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusDraft, StatusScheduled, StatusDispatched, StatusOnSite,
		StatusInProgress, StatusRequiresFollowup:
		return false
	}
	return false
}

// RequiresTechnician reports whether a work order in status s must have a
// technician bound to it.
func (s Status) RequiresTechnician() bool {
	switch s {
	case StatusOnSite, StatusInProgress, StatusCompleted:
		return true
	case StatusDraft, StatusScheduled, StatusDispatched, StatusCancelled, StatusRequiresFollowup:
		return false
	}
	return false
}

// Label is the display text for s.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusScheduled:
		return "Scheduled"
	case StatusDispatched:
		return "Dispatched"
	case StatusOnSite:
		return "On Site"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusRequiresFollowup:
		return "Requires Follow-up"
	}
	return ""
}

func (s *Status) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(s), func(v string) bool { return Status(v).Valid() }, "status")
}

// Priority classifies the urgency of a work order.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityEmergency}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// Rank orders priorities from least (0) to most urgent. Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	case PriorityEmergency:
		return 4
	}
	return -1
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	case PriorityEmergency:
		return "Emergency"
	}
	return ""
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(p), func(v string) bool { return Priority(v).Valid() }, "priority")
}

// WorkOrderType is the kind of field work.
type WorkOrderType string

const (
	TypeInstallation WorkOrderType = "installation"
	TypeMaintenance  WorkOrderType = "maintenance"
	TypeRepair       WorkOrderType = "repair"
	TypeUpgrade      WorkOrderType = "upgrade"
	TypeInspection   WorkOrderType = "inspection"
	TypeDisconnect   WorkOrderType = "disconnect"
)

func (t WorkOrderType) Valid() bool {
	switch t {
	case TypeInstallation, TypeMaintenance, TypeRepair, TypeUpgrade, TypeInspection, TypeDisconnect:
		return true
	}
	return false
}

func (t *WorkOrderType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(t), func(v string) bool { return WorkOrderType(v).Valid() }, "work_order_type")
}

// TechnicianStatus is the availability state reported for a technician.
type TechnicianStatus string

const (
	TechAvailable TechnicianStatus = "available"
	TechOnJob     TechnicianStatus = "on_job"
	TechTraveling TechnicianStatus = "traveling"
	TechOffDuty   TechnicianStatus = "off_duty"
)

func (s TechnicianStatus) Valid() bool {
	switch s {
	case TechAvailable, TechOnJob, TechTraveling, TechOffDuty:
		return true
	}
	return false
}

func (s *TechnicianStatus) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(s), func(v string) bool { return TechnicianStatus(v).Valid() }, "current_status")
}

// ActivityType classifies a time entry.
type ActivityType string

const (
	ActivityWork   ActivityType = "work"
	ActivityTravel ActivityType = "travel"
)

func (a ActivityType) Valid() bool {
	switch a {
	case ActivityWork, ActivityTravel:
		return true
	}
	return false
}

func (a *ActivityType) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(a), func(v string) bool { return ActivityType(v).Valid() }, "activity_type")
}

// EvidenceKind is the type of proof attached to a checklist item.
type EvidenceKind string

const (
	EvidencePhoto       EvidenceKind = "photo"
	EvidenceSignature   EvidenceKind = "signature"
	EvidenceMeasurement EvidenceKind = "measurement"
)

func (k EvidenceKind) Valid() bool {
	switch k {
	case EvidencePhoto, EvidenceSignature, EvidenceMeasurement:
		return true
	}
	return false
}

// Binary reports whether evidence of kind k carries an uploaded payload
// rather than a measured value.
func (k EvidenceKind) Binary() bool {
	switch k {
	case EvidencePhoto, EvidenceSignature:
		return true
	case EvidenceMeasurement:
		return false
	}
	return false
}

func (k *EvidenceKind) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, (*string)(k), func(v string) bool { return EvidenceKind(v).Valid() }, "kind")
}

// unmarshalEnum treats null and "" as unset, which is what the zero value
// marshals to.
func unmarshalEnum(b []byte, dst *string, valid func(string) bool, field string) error {
	if string(b) == "null" {
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if v != "" && !valid(v) {
		return fmt.Errorf("%s: unknown value %q", field, v)
	}
	*dst = v
	return nil
}

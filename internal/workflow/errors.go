package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/garnizeh/fieldops/pkg/models"
)

// InvalidTransitionError is returned when a work order is not in a state the
// requested transition may start from. No request is sent.
type InvalidTransitionError struct {
	WorkOrderID string
	From        models.Status
	To          models.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("work order %s is %s and cannot move to %s", e.WorkOrderID, e.From.Label(), e.To.Label())
}

// LocationUnavailableError is returned by CheckIn without a device fix. A new
// fix has been requested when it is returned.
type LocationUnavailableError struct {
	WorkOrderID string
}

func (e *LocationUnavailableError) Error() string {
	return fmt.Sprintf("work order %s: location unavailable, waiting for a device fix", e.WorkOrderID)
}

// IncompleteChecklistError blocks completion while required items are open.
// It is only returned when strict checklist mode is on.
type IncompleteChecklistError struct {
	WorkOrderID string
	Outstanding []string
}

func (e *IncompleteChecklistError) Error() string {
	return fmt.Sprintf("work order %s has %d required checklist item(s) open: %s",
		e.WorkOrderID, len(e.Outstanding), strings.Join(e.Outstanding, ", "))
}

var errNoTechnician = errors.New("status requires an assigned technician")

// InconsistentStateError is returned when the backend accepted a change but
// neither its answer nor a re-fetch gives an assigned work order. The cache
// is left as it was until the next refresh.
type InconsistentStateError struct {
	WorkOrderID string
	Err         error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("work order %s: backend state is inconsistent: %v", e.WorkOrderID, e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }

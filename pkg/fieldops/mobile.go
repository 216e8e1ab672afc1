package fieldops

import (
	"context"
	"net/http"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

// ChecklistUpdate is the body of PUT /mobile/work-orders/{id}/checklist/{itemId}.
type ChecklistUpdate struct {
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EvidenceUpload is the body of POST /mobile/work-orders/{id}/evidence. Either
// ObjectKey (already uploaded to storage) or the inline Payload is set.
type EvidenceUpload struct {
	ItemID   string          `json:"checklist_item_id"`
	Evidence models.Evidence `json:"evidence"`
}

// CheckIn records arrival on site at loc.
func (c *Client) CheckIn(ctx context.Context, id string, loc models.Location) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPut, c.endpoint("mobile", "work-orders", id, "checkin"), locationQuery(&loc), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitTimeEntry(ctx context.Context, e models.TimeEntry) error {
	return c.do(ctx, http.MethodPost, c.endpoint("mobile", "work-orders", e.WorkOrderID, "time-entries"), nil, e, nil)
}

func (c *Client) UpdateChecklistItem(ctx context.Context, workOrderID, itemID string, upd ChecklistUpdate) error {
	return c.do(ctx, http.MethodPut, c.endpoint("mobile", "work-orders", workOrderID, "checklist", itemID), nil, upd, nil)
}

func (c *Client) SubmitEvidence(ctx context.Context, workOrderID string, up EvidenceUpload) error {
	return c.do(ctx, http.MethodPost, c.endpoint("mobile", "work-orders", workOrderID, "evidence"), nil, up, nil)
}

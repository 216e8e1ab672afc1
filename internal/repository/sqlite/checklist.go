package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garnizeh/fieldops/pkg/models"
)

// SaveChecklistEdit upserts the latest edit for an item and marks it unsynced.
func (r *SQLiteRepo) SaveChecklistEdit(ctx context.Context, e *models.ChecklistEdit) error {
	if e == nil {
		return fmt.Errorf("checklist edit is nil")
	}
	_, err := r.conn.Exec(ctx,
		`INSERT INTO checklist_edits (work_order_id, item_id, completed, synced, updated) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (work_order_id, item_id) DO UPDATE SET completed = excluded.completed, synced = 0, updated = excluded.updated`,
		e.WorkOrderID, e.ItemID, boolInt(e.Completed), toMillis(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save checklist edit: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetChecklistEdit(ctx context.Context, workOrderID, itemID string) (*models.ChecklistEdit, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT work_order_id, item_id, completed, synced, updated FROM checklist_edits WHERE work_order_id = ? AND item_id = ?`,
		workOrderID, itemID)
	e, err := scanChecklistEdit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepo) ListChecklistEdits(ctx context.Context, workOrderID string) ([]models.ChecklistEdit, error) {
	rows, err := r.conn.QueryRows(ctx,
		`SELECT work_order_id, item_id, completed, synced, updated FROM checklist_edits WHERE work_order_id = ? ORDER BY updated ASC`,
		workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChecklistEdit
	for rows.Next() {
		e, err := scanChecklistEdit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) MarkChecklistEditSynced(ctx context.Context, workOrderID, itemID string, updatedAt time.Time) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE checklist_edits SET synced = 1 WHERE work_order_id = ? AND item_id = ? AND updated = ?`,
		workOrderID, itemID, toMillis(updatedAt))
	return err
}

func (r *SQLiteRepo) DeleteUnsyncedChecklistEdits(ctx context.Context) (int64, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM checklist_edits WHERE synced = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanChecklistEdit(s scanner) (*models.ChecklistEdit, error) {
	var (
		e         models.ChecklistEdit
		completed int
		synced    int
		updated   int64
	)
	if err := s.Scan(&e.WorkOrderID, &e.ItemID, &completed, &synced, &updated); err != nil {
		return nil, err
	}
	e.Completed = completed == 1
	e.Synced = synced == 1
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

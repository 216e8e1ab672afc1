package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/fieldops/pkg/models"
)

const timeEntryColumns = `id, work_order_id, technician_id, activity_type, start_time, end_time, duration_minutes, synced`

func (r *SQLiteRepo) CreateTimeEntry(ctx context.Context, e *models.TimeEntry) error {
	if e == nil {
		return fmt.Errorf("time entry is nil")
	}
	ts := now()
	_, err := r.conn.Exec(ctx,
		`INSERT INTO time_entries (id, work_order_id, technician_id, activity_type, start_time, synced, created, updated) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		e.ID, e.WorkOrderID, e.TechnicianID, string(e.ActivityType), toMillis(e.StartTime), ts, ts)
	if err != nil {
		return fmt.Errorf("insert time entry: %w", err)
	}
	return nil
}

// CloseTimeEntry only updates a row that is still open, so an entry is
// closed at most once even across restarts.
func (r *SQLiteRepo) CloseTimeEntry(ctx context.Context, e *models.TimeEntry) error {
	if e == nil || e.EndTime == nil || e.DurationMinutes == nil {
		return fmt.Errorf("time entry is not closed")
	}
	res, err := r.conn.Exec(ctx,
		`UPDATE time_entries SET end_time = ?, duration_minutes = ?, updated = ? WHERE id = ? AND end_time IS NULL`,
		toMillis(*e.EndTime), *e.DurationMinutes, now(), e.ID)
	if err != nil {
		return fmt.Errorf("close time entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrTimeEntryClosed
	}
	return nil
}

func (r *SQLiteRepo) GetTimeEntry(ctx context.Context, id string) (*models.TimeEntry, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = ?`, id)
	e, err := scanTimeEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepo) GetOpenTimeEntry(ctx context.Context, technicianID string) (*models.TimeEntry, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE technician_id = ? AND end_time IS NULL`, technicianID)
	e, err := scanTimeEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepo) ListTimeEntries(ctx context.Context, workOrderID string) ([]models.TimeEntry, error) {
	q := `SELECT ` + timeEntryColumns + ` FROM time_entries`
	var args []any
	if workOrderID != "" {
		q += ` WHERE work_order_id = ?`
		args = append(args, workOrderID)
	}
	q += ` ORDER BY start_time ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) MarkTimeEntrySynced(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `UPDATE time_entries SET synced = 1, updated = ? WHERE id = ?`, now(), id)
	return err
}

func (r *SQLiteRepo) DeleteUnsyncedTimeEntries(ctx context.Context) (int64, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM time_entries WHERE synced = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTimeEntry(s scanner) (*models.TimeEntry, error) {
	var (
		e        models.TimeEntry
		activity string
		start    int64
		end      sql.NullInt64
		dur      sql.NullInt64
		synced   int
	)
	if err := s.Scan(&e.ID, &e.WorkOrderID, &e.TechnicianID, &activity, &start, &end, &dur, &synced); err != nil {
		return nil, err
	}
	e.ActivityType = models.ActivityType(activity)
	e.StartTime = fromMillis(start)
	e.EndTime = nullMillis(end)
	if dur.Valid {
		d := int(dur.Int64)
		e.DurationMinutes = &d
	}
	e.Synced = synced == 1
	return &e, nil
}

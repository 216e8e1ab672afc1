package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/fieldops/internal/db"
)

var _ Queue = (*Repository)(nil)

// Repository is the SQLite outbox. Timestamps are unix milliseconds.
type Repository struct {
	db  *db.DB
	now func() time.Time
}

func NewRepository(d *db.DB) *Repository { return &Repository{db: d, now: time.Now} }

const jobColumns = `id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated`

// Enqueue inserts a job and returns its ID. A job of the same type and
// payload that is still waiting to run absorbs the new one and its ID is
// returned instead; payloads are row keys, so the waiting job will push the
// latest state anyway.
func (r *Repository) Enqueue(ctx context.Context, j *Job) (int64, error) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if j.Priority == 0 {
		j.Priority = DefaultPriority
	}
	now := r.now().UTC()
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}
	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM jobs WHERE type = ? AND payload = ? AND status IN ('queued','retry') ORDER BY id LIMIT 1`, j.Type, string(j.Payload)).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		q := `INSERT INTO jobs(type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated) VALUES(?,?,?,?,?,?,?,?,?)`
		res, err := tx.ExecContext(ctx, q, j.Type, string(j.Payload), StatusQueued, j.Attempts, j.MaxAttempts, j.Priority, j.ScheduledAt.UnixMilli(), now.UnixMilli(), now.UnixMilli())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue failed: %w", err)
	}
	return id, nil
}

// FetchNext claims the next ready job respecting priority and schedule. The
// select and the claim run in one transaction so two workers never get the
// same job.
func (r *Repository) FetchNext(ctx context.Context) (*Job, error) {
	var job *Job
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now().UTC().UnixMilli()
		q := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN ('queued','retry') AND (next_try_at IS NULL OR next_try_at <= ?) AND scheduled_at <= ? ORDER BY priority ASC, scheduled_at ASC, id ASC LIMIT 1`
		j, err := scanJob(tx.QueryRowContext(ctx, q, now, now))
		if err != nil || j == nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated = ? WHERE id = ?`, StatusRunning, now, j.ID); err != nil {
			return err
		}
		j.Status = StatusRunning
		job = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch next job: %w", err)
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j           Job
		payload     sql.NullString
		scheduledAt int64
		nextTry     sql.NullInt64
		lastError   sql.NullString
		created     int64
		updated     int64
	)
	if err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority, &scheduledAt, &nextTry, &lastError, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	j.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	j.Created = time.UnixMilli(created).UTC()
	j.Updated = time.UnixMilli(updated).UTC()
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if nextTry.Valid {
		t := time.UnixMilli(nextTry.Int64).UTC()
		j.NextTryAt = &t
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}
	return &j, nil
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *Repository) UpdateJob(ctx context.Context, j *Job) error {
	var nextTry any
	if j.NextTryAt != nil {
		nextTry = j.NextTryAt.UnixMilli()
	}
	q := `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, updated = ? WHERE id = ?`
	_, err := r.db.Exec(ctx, q, j.Status, j.Attempts, nextTry, j.LastError, r.now().UTC().UnixMilli(), j.ID)
	return err
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *Repository) MoveToDeadLetter(ctx context.Context, j *Job) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		insert := `INSERT INTO dead_letter_jobs(job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?)`
		if _, err := tx.ExecContext(ctx, insert, j.ID, j.Type, string(j.Payload), j.Attempts, j.LastError, r.now().UTC().UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return err
	})
}

// ListDeadLetters returns dead-lettered jobs, newest first.
func (r *Repository) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := r.db.QueryRows(ctx, `SELECT id, job_id, type, payload, attempts, last_error, failed_at FROM dead_letter_jobs ORDER BY failed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	var out []DeadLetter
	for rows.Next() {
		var (
			d        DeadLetter
			payload  sql.NullString
			lastErr  sql.NullString
			failedAt int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Attempts, &lastErr, &failedAt); err != nil {
			return nil, err
		}
		d.Payload = json.RawMessage(payload.String)
		d.LastError = lastErr.String
		d.FailedAt = time.UnixMilli(failedAt).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Pending counts jobs that have not finished.
func (r *Repository) Pending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status IN ('queued','retry','running')`).Scan(&n)
	return n, err
}

// ResetRunning puts jobs left running by a crashed process back in the queue.
func (r *Repository) ResetRunning(ctx context.Context) (int64, error) {
	res, err := r.db.Exec(ctx, `UPDATE jobs SET status = ?, updated = ? WHERE status = ?`, StatusRetry, r.now().UTC().UnixMilli(), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeDone deletes finished jobs older than before.
func (r *Repository) PurgeDone(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE status = ? AND updated < ?`, StatusDone, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge done jobs: %w", err)
	}
	return res.RowsAffected()
}

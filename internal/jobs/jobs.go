package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job types pushed through the outbox.
const (
	TypeSyncTimeEntry     = "sync.time_entry"
	TypeSyncChecklistItem = "sync.checklist_item"
	TypeSyncEvidence      = "sync.evidence"
)

const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusRetry   = "retry"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

const (
	DefaultMaxAttempts = 5
	DefaultPriority    = 100
)

// Job is one outbox entry. Payload carries the key of the local row to push,
// not the row itself, so a retry always sends the latest local state.
type Job struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// DeadLetter is a job that exhausted its attempts or failed permanently.
type DeadLetter struct {
	ID        int64           `json:"id"`
	JobID     int64           `json:"job_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// Handler processes a job
type Handler func(ctx context.Context, j *Job) error

// Queue is the storage behind the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, j *Job) (int64, error)
	// FetchNext claims the next ready job, or returns nil when none is ready.
	FetchNext(ctx context.Context) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	MoveToDeadLetter(ctx context.Context, j *Job) error
}

var ErrMaxAttempts = errors.New("max attempts reached")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job is dead-lettered at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// BackoffDuration returns exponential backoff duration for attempt n
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	if attempt > 9 {
		attempt = 9
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}

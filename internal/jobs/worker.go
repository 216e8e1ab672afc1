package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type PoolOptions struct {
	Workers     int
	MaxAttempts int
	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	Backoff      func(attempt int) time.Duration
}

type WorkerPool struct {
	queue    Queue
	handlers map[string]Handler
	logger   *slog.Logger
	opts     PoolOptions
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWorkerPool(queue Queue, handlers map[string]Handler, logger *slog.Logger, opts PoolOptions) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Backoff == nil {
		opts.Backoff = BackoffDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{queue: queue, handlers: handlers, logger: logger, opts: opts, stop: make(chan struct{})}
}

// Start launches the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. It is safe to call more
// than once.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// wait sleeps for d and reports false if the pool is stopping.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Debug("worker stopping", slog.Int("worker", id))
			return
		case <-ctx.Done():
			p.logger.Debug("context canceled, worker exiting", slog.Int("worker", id))
			return
		default:
		}

		job, err := p.queue.FetchNext(ctx)
		if err != nil {
			p.logger.Error("fetch job", slog.String("error", err.Error()))
			if !p.wait(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(ctx, p.opts.PollInterval) {
				return
			}
			continue
		}
		p.process(ctx, job)
	}
}

func (p *WorkerPool) process(ctx context.Context, job *Job) {
	log := p.logger.With(slog.Int64("job_id", job.ID), slog.String("type", job.Type))

	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = StatusFailed
		job.LastError = "no handler"
		if err := p.queue.MoveToDeadLetter(ctx, job); err != nil {
			log.Error("move to dead letter", slog.String("error", err.Error()))
		}
		log.Warn("job has no handler")
		return
	}

	err := h(ctx, job)
	if err == nil {
		job.Status = StatusDone
		job.LastError = ""
		job.NextTryAt = nil
		if upErr := p.queue.UpdateJob(ctx, job); upErr != nil {
			log.Error("mark job done", slog.String("error", upErr.Error()))
		}
		log.Debug("job done")
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		if mvErr := p.queue.MoveToDeadLetter(ctx, job); mvErr != nil {
			log.Error("move to dead letter", slog.String("error", mvErr.Error()))
		}
		log.Warn("job dead-lettered", slog.Int("attempts", job.Attempts), slog.String("error", err.Error()))
		return
	}

	t := time.Now().Add(p.opts.Backoff(job.Attempts))
	job.NextTryAt = &t
	job.Status = StatusRetry
	if upErr := p.queue.UpdateJob(ctx, job); upErr != nil {
		log.Error("update job for retry", slog.String("error", upErr.Error()))
	}
	log.Info("job scheduled for retry", slog.Int("attempts", job.Attempts), slog.Time("next_try_at", t))
}

// Enqueue marshals payload and persists a new job. Zero priority or
// maxAttempts take the pool defaults.
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	if maxAttempts <= 0 {
		maxAttempts = p.opts.MaxAttempts
	}
	j := &Job{Type: typ, Payload: b, Priority: priority, MaxAttempts: maxAttempts, ScheduledAt: time.Now()}
	return p.queue.Enqueue(ctx, j)
}

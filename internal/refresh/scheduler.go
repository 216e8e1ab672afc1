package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrAlreadyStarted = errors.New("scheduler already started")

type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	run      TaskFunc
	trigger  chan struct{}
}

// Scheduler owns named periodic tasks. Each task runs once on Start and then
// on its interval until Stop, which waits for every task goroutine.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	logger  *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Tasks added after Start are not run.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			return fmt.Errorf("task %s already registered", name)
		}
	}
	s.tasks = append(s.tasks, &task{name: name, interval: interval, run: fn, trigger: make(chan struct{}, 1)})
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels every task and waits for them to return. The scheduler can
// be started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger asks a task to run now. It reports false for unknown tasks.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			select {
			case t.trigger <- struct{}{}:
			default:
			}
			return true
		}
	}
	return false
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	s.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		case <-t.trigger:
			s.runOnce(ctx, t)
			ticker.Reset(t.interval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	start := time.Now()
	if err := t.run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("scheduled task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled task done",
		slog.String("task", t.name),
		slog.Duration("took", time.Since(start)))
}

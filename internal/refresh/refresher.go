package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

const TaskName = "refresh"

type Backend interface {
	ListWorkOrders(ctx context.Context, f fieldops.WorkOrderFilter) ([]models.WorkOrder, error)
	ListTechnicians(ctx context.Context) ([]models.Technician, error)
	DashboardSummary(ctx context.Context) (*models.DashboardSummary, error)
}

type Cache interface {
	ReplaceWorkOrders(list []models.WorkOrder, at time.Time) error
	ReplaceTechnicians(list []models.Technician) error
	SetSummary(sum *models.DashboardSummary) error
}

// Sessions is a Cache that forwards to whichever session is active. A
// refresh pins the session that is current when it starts and writes only to
// that one, so a sign-in during the fetch never receives the previous
// user's data.
type Sessions interface {
	Cache
	Current() (*session.Session, error)
}

// Overlayer reapplies local edits the backend has not seen yet.
type Overlayer interface {
	Overlay(ctx context.Context, orders []models.WorkOrder) error
}

// Refresher re-fetches authoritative state and replaces the caches
// wholesale.
type Refresher struct {
	backend Backend
	cache   Cache
	overlay Overlayer
	filter  fieldops.WorkOrderFilter
	now     func() time.Time
	logger  *slog.Logger
}

func NewRefresher(backend Backend, cache Cache, overlay Overlayer, filter fieldops.WorkOrderFilter, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{backend: backend, cache: cache, overlay: overlay, filter: filter, now: time.Now, logger: logger}
}

// Refresh fetches work orders, technicians and the summary concurrently.
// Caches are only replaced when both lists arrived. A missing summary is
// computed from the lists instead.
func (r *Refresher) Refresh(ctx context.Context) error {
	target := r.cache
	if sm, ok := r.cache.(Sessions); ok {
		s, err := sm.Current()
		if err != nil {
			return err
		}
		target = s
	}

	var (
		orders  []models.WorkOrder
		techs   []models.Technician
		summary *models.DashboardSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = r.backend.ListWorkOrders(gctx, r.filter)
		if err != nil {
			return fmt.Errorf("list work orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		techs, err = r.backend.ListTechnicians(gctx)
		if err != nil {
			return fmt.Errorf("list technicians: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		summary, err = r.backend.DashboardSummary(gctx)
		if err != nil {
			r.logger.Warn("dashboard summary unavailable, computing locally", slog.String("error", err.Error()))
			summary = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if r.overlay != nil {
		if err := r.overlay.Overlay(ctx, orders); err != nil {
			r.logger.Warn("overlay local edits", slog.String("error", err.Error()))
		}
	}
	now := r.now()
	if summary == nil {
		s := models.Summarize(orders, techs, now)
		summary = &s
	}

	err := target.ReplaceWorkOrders(orders, now)
	if err == nil {
		err = target.ReplaceTechnicians(techs)
	}
	if err == nil {
		err = target.SetSummary(summary)
	}
	if errors.Is(err, session.ErrSessionClosed) {
		r.logger.Info("session ended during refresh, results dropped")
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("caches refreshed",
		slog.Int("work_orders", len(orders)),
		slog.Int("technicians", len(techs)))
	return nil
}

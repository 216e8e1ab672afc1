package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/fieldops/internal/location"
	"github.com/garnizeh/fieldops/internal/session"
	"github.com/garnizeh/fieldops/pkg/fieldops"
	"github.com/garnizeh/fieldops/pkg/models"
)

// Backend is the part of the field-operations API the controller drives.
type Backend interface {
	UpdateStatus(ctx context.Context, id string, upd fieldops.StatusUpdate, loc *models.Location) (*models.WorkOrder, error)
	CheckIn(ctx context.Context, id string, loc models.Location) (*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error)
	ListTechnicians(ctx context.Context) ([]models.Technician, error)
}

// Cache is the session state the controller reads and commits to.
type Cache interface {
	WorkOrder(id string) (*models.WorkOrder, error)
	PutWorkOrder(wo *models.WorkOrder) error
	ReplaceTechnicians(list []models.Technician) error
	Identity() (session.Identity, error)
}

type LocationProvider interface {
	Current() (models.Location, bool)
	RequestFix()
}

type Options struct {
	// StrictChecklist refuses completion while required items are open.
	StrictChecklist bool
	// Geofence is the check-in radius in meters used for the arrival log.
	Geofence float64
	Now      func() time.Time
}

// Controller enforces the work-order lifecycle. Every transition is checked
// locally, sent to the backend, and committed to the cache only after the
// backend accepts it.
type Controller struct {
	backend  Backend
	cache    Cache
	location LocationProvider
	events   *Broker
	opts     Options
	logger   *slog.Logger
}

func NewController(backend Backend, cache Cache, loc LocationProvider, events *Broker, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NewBroker()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Geofence <= 0 {
		opts.Geofence = location.DefaultGeofence
	}
	return &Controller{backend: backend, cache: cache, location: loc, events: events, opts: opts, logger: logger}
}

// Events returns the broker committed transitions are published on.
func (c *Controller) Events() *Broker { return c.events }

func (c *Controller) load(id string, to models.Status) (*models.WorkOrder, error) {
	wo, err := c.cache.WorkOrder(id)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(wo.Status, to) {
		return nil, &InvalidTransitionError{WorkOrderID: id, From: wo.Status, To: to}
	}
	return wo, nil
}

// CheckIn moves a scheduled or dispatched work order on site. It needs a
// current device fix; without one a fix is requested and nothing is sent.
func (c *Controller) CheckIn(ctx context.Context, id string) (*models.WorkOrder, error) {
	wo, err := c.load(id, models.StatusOnSite)
	if err != nil {
		return nil, err
	}
	loc, ok := c.location.Current()
	if !ok {
		c.location.RequestFix()
		c.logger.Info("check-in blocked, location requested", slog.String("work_order_id", id))
		return nil, &LocationUnavailableError{WorkOrderID: id}
	}
	if wo.ServiceLocation != nil {
		inside, dist := location.Within(loc, *wo.ServiceLocation, c.opts.Geofence)
		if !inside {
			c.logger.Warn("check-in outside geofence",
				slog.String("work_order_id", id),
				slog.Int("distance_m", int(dist)))
		}
	}

	updated, err := c.backend.CheckIn(ctx, id, loc)
	if err != nil {
		return nil, err
	}
	next := c.merge(wo, updated, models.StatusOnSite)
	if next.Technician == nil {
		if ident, err := c.cache.Identity(); err == nil && ident.TechnicianID != "" {
			next.Technician = &models.TechnicianRef{ID: ident.TechnicianID, FullName: ident.Name}
		}
	}
	return c.commit(ctx, wo, next)
}

// StartWork moves an on-site work order in progress.
func (c *Controller) StartWork(ctx context.Context, id string) (*models.WorkOrder, error) {
	wo, err := c.load(id, models.StatusInProgress)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, wo, models.StatusInProgress, "")
}

// CompleteWork completes an in-progress work order and forces progress to
// 100 regardless of the checklist, unless strict checklist mode is on.
func (c *Controller) CompleteWork(ctx context.Context, id, notes string) (*models.WorkOrder, error) {
	wo, err := c.load(id, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if open := wo.OutstandingRequired(); len(open) > 0 {
		ids := make([]string, len(open))
		for i := range open {
			ids[i] = open[i].ID
		}
		if c.opts.StrictChecklist {
			return nil, &IncompleteChecklistError{WorkOrderID: id, Outstanding: ids}
		}
		c.logger.Warn("completing with required checklist items open",
			slog.String("work_order_id", id),
			slog.Any("items", ids))
	}

	done, err := c.send(ctx, wo, models.StatusCompleted, notes)
	if err != nil {
		return nil, err
	}
	c.refreshTechnicians(ctx)
	return done, nil
}

// Cancel is an administrative exit from any non-terminal status.
func (c *Controller) Cancel(ctx context.Context, id, reason string) (*models.WorkOrder, error) {
	wo, err := c.load(id, models.StatusCancelled)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, wo, models.StatusCancelled, reason)
}

// RequireFollowup flags a non-terminal work order for follow-up.
func (c *Controller) RequireFollowup(ctx context.Context, id, notes string) (*models.WorkOrder, error) {
	wo, err := c.load(id, models.StatusRequiresFollowup)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, wo, models.StatusRequiresFollowup, notes)
}

// Advance performs an administrative step to the given status. Steps that
// have their own operation are routed to it.
func (c *Controller) Advance(ctx context.Context, id string, to models.Status, notes string) (*models.WorkOrder, error) {
	switch to {
	case models.StatusOnSite:
		return c.CheckIn(ctx, id)
	case models.StatusInProgress:
		return c.StartWork(ctx, id)
	case models.StatusCompleted:
		return c.CompleteWork(ctx, id, notes)
	case models.StatusCancelled:
		return c.Cancel(ctx, id, notes)
	case models.StatusRequiresFollowup:
		return c.RequireFollowup(ctx, id, notes)
	case models.StatusDraft, models.StatusScheduled, models.StatusDispatched:
		wo, err := c.load(id, to)
		if err != nil {
			return nil, err
		}
		return c.send(ctx, wo, to, notes)
	}
	return nil, fmt.Errorf("advance work order %s: unknown status %q", id, to)
}

func (c *Controller) send(ctx context.Context, wo *models.WorkOrder, to models.Status, notes string) (*models.WorkOrder, error) {
	var loc *models.Location
	if l, ok := c.location.Current(); ok {
		loc = &l
	}
	updated, err := c.backend.UpdateStatus(ctx, wo.ID, fieldops.StatusUpdate{NewStatus: to, Notes: notes}, loc)
	if err != nil {
		c.logger.Warn("status update rejected",
			slog.String("work_order_id", wo.ID),
			slog.String("to", string(to)),
			slog.String("error", err.Error()))
		return nil, err
	}
	return c.commit(ctx, wo, c.merge(wo, updated, to))
}

// merge picks the server's copy when it returned one and applies the
// target status to the cached copy otherwise. Fields the server left out
// keep their cached values.
func (c *Controller) merge(cached, returned *models.WorkOrder, to models.Status) *models.WorkOrder {
	var next *models.WorkOrder
	if returned == nil || returned.ID == "" {
		next = cached.Clone()
		next.Status = to
	} else {
		next = returned.Clone()
		if next.Status == "" {
			next.Status = to
		}
		if len(next.Checklist) == 0 && len(cached.Checklist) > 0 {
			next.Checklist = cached.Clone().Checklist
		}
		if next.Technician == nil && cached.Technician != nil {
			t := *cached.Technician
			next.Technician = &t
		}
	}
	if next.Status != to {
		c.logger.Warn("backend reported a different status",
			slog.String("work_order_id", cached.ID),
			slog.String("requested", string(to)),
			slog.String("reported", string(next.Status)))
	}
	if next.Status == models.StatusCompleted {
		next.ProgressPercentage = models.ProgressMax
	}
	return next
}

// commit stores next. A copy that leaves an on-site, in-progress or
// completed order without a technician is never cached: the backend's
// current copy is fetched instead, and if that is unassigned too the cache
// keeps prev.
func (c *Controller) commit(ctx context.Context, prev, next *models.WorkOrder) (*models.WorkOrder, error) {
	if unassigned(next) {
		c.logger.Warn("transition result has no technician, re-fetching",
			slog.String("work_order_id", next.ID),
			slog.String("status", string(next.Status)))
		fresh, err := c.backend.GetWorkOrder(ctx, next.ID)
		if err != nil {
			return nil, &InconsistentStateError{WorkOrderID: next.ID, Err: errors.Join(errNoTechnician, err)}
		}
		if fresh == nil || fresh.ID == "" || unassigned(fresh) {
			return nil, &InconsistentStateError{WorkOrderID: next.ID, Err: errNoTechnician}
		}
		fresh = fresh.Clone()
		if len(fresh.Checklist) == 0 && len(next.Checklist) > 0 {
			fresh.Checklist = next.Clone().Checklist
		}
		next = fresh
	}
	if err := next.Validate(); err != nil {
		c.logger.Warn("committing work order with incomplete data",
			slog.String("work_order_id", next.ID),
			slog.String("error", err.Error()))
	}
	if err := c.cache.PutWorkOrder(next); err != nil {
		return nil, fmt.Errorf("commit work order %s: %w", next.ID, err)
	}
	c.events.Publish(Event{
		Type:        EventStatusChanged,
		WorkOrderID: next.ID,
		From:        prev.Status,
		To:          next.Status,
		At:          c.opts.Now(),
	})
	c.logger.Info("work order transitioned",
		slog.String("work_order_id", next.ID),
		slog.String("from", string(prev.Status)),
		slog.String("to", string(next.Status)))
	return next, nil
}

func unassigned(wo *models.WorkOrder) bool {
	return wo.Technician == nil && wo.Status.RequiresTechnician()
}

func (c *Controller) refreshTechnicians(ctx context.Context) {
	techs, err := c.backend.ListTechnicians(ctx)
	if err != nil {
		c.logger.Warn("technician refresh after completion failed", slog.String("error", err.Error()))
		return
	}
	if err := c.cache.ReplaceTechnicians(techs); err != nil {
		c.logger.Warn("technician cache update failed", slog.String("error", err.Error()))
	}
}

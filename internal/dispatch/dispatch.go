package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/garnizeh/fieldops/pkg/models"
)

var (
	ErrNotEmergency = errors.New("emergency dispatch requires an emergency priority work order")
	ErrNotConfirmed = errors.New("emergency dispatch was not confirmed")
)

type Strategy string

const (
	StrategyManual      Strategy = "manual"
	StrategyIntelligent Strategy = "intelligent"
	StrategyEmergency   Strategy = "emergency"
)

type Backend interface {
	AssignTechnician(ctx context.Context, id, technicianID string) (*models.WorkOrder, error)
	DispatchIntelligent(ctx context.Context, id string) (*models.Technician, error)
	DispatchEmergency(ctx context.Context, id string) (*models.Technician, error)
	GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error)
	ListTechnicians(ctx context.Context) ([]models.Technician, error)
}

type Cache interface {
	WorkOrder(id string) (*models.WorkOrder, error)
	PutWorkOrder(wo *models.WorkOrder) error
	ReplaceTechnicians(list []models.Technician) error
}

// Confirmer asks a human to approve an emergency dispatch.
type Confirmer interface {
	Confirm(ctx context.Context, wo *models.WorkOrder) (bool, error)
}

type ConfirmFunc func(ctx context.Context, wo *models.WorkOrder) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, wo *models.WorkOrder) (bool, error) {
	return f(ctx, wo)
}

// Result is the outcome of an assignment.
type Result struct {
	WorkOrder  *models.WorkOrder  `json:"work_order"`
	Technician *models.Technician `json:"technician,omitempty"`
	// Shared is set when the call was coalesced with an identical request
	// already in flight.
	Shared bool `json:"-"`
}

// Dispatcher binds technicians to work orders. Assignments are never applied
// to the cache before the backend accepts them and are never retried.
type Dispatcher struct {
	backend Backend
	cache   Cache
	group   singleflight.Group
	logger  *slog.Logger
}

func New(backend Backend, cache Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backend: backend, cache: cache, logger: logger}
}

func key(s Strategy, workOrderID, technicianID string) string {
	return string(s) + "|" + workOrderID + "|" + technicianID
}

// ManualAssign assigns technicianID to the work order. Workload is not
// checked here; the backend decides and its rejection is returned as is.
func (d *Dispatcher) ManualAssign(ctx context.Context, workOrderID, technicianID string) (*Result, error) {
	if technicianID == "" {
		return nil, errors.New("technician id is required")
	}
	return d.run(StrategyManual, workOrderID, technicianID, func() (*Result, error) {
		cached, err := d.cache.WorkOrder(workOrderID)
		if err != nil {
			return nil, err
		}
		updated, err := d.backend.AssignTechnician(ctx, workOrderID, technicianID)
		if err != nil {
			return nil, err
		}
		next := cached.Clone()
		if updated != nil && updated.ID != "" {
			next = updated.Clone()
			if len(next.Checklist) == 0 {
				next.Checklist = cached.Clone().Checklist
			}
		}
		if next.Technician == nil || next.Technician.ID != technicianID {
			next.Technician = &models.TechnicianRef{ID: technicianID}
		}
		if err := d.cache.PutWorkOrder(next); err != nil {
			return nil, fmt.Errorf("commit assignment: %w", err)
		}
		d.refreshTechnicians(ctx)
		return &Result{WorkOrder: next}, nil
	})
}

// IntelligentAssign lets the backend pick the technician.
func (d *Dispatcher) IntelligentAssign(ctx context.Context, workOrderID string) (*Result, error) {
	return d.run(StrategyIntelligent, workOrderID, "", func() (*Result, error) {
		cached, err := d.cache.WorkOrder(workOrderID)
		if err != nil {
			return nil, err
		}
		return d.serverPick(ctx, cached, d.backend.DispatchIntelligent)
	})
}

// EmergencyAssign is IntelligentAssign for emergency work orders behind a
// human confirmation. Rejections here never reach the backend.
func (d *Dispatcher) EmergencyAssign(ctx context.Context, workOrderID string, confirm Confirmer) (*Result, error) {
	cached, err := d.cache.WorkOrder(workOrderID)
	if err != nil {
		return nil, err
	}
	if cached.Priority != models.PriorityEmergency {
		return nil, ErrNotEmergency
	}
	if confirm == nil {
		return nil, ErrNotConfirmed
	}
	ok, err := confirm.Confirm(ctx, cached)
	if err != nil {
		return nil, fmt.Errorf("confirm emergency dispatch: %w", err)
	}
	if !ok {
		return nil, ErrNotConfirmed
	}
	return d.run(StrategyEmergency, workOrderID, "", func() (*Result, error) {
		return d.serverPick(ctx, cached, d.backend.DispatchEmergency)
	})
}

func (d *Dispatcher) serverPick(ctx context.Context, cached *models.WorkOrder, call func(context.Context, string) (*models.Technician, error)) (*Result, error) {
	tech, err := call(ctx, cached.ID)
	if err != nil {
		return nil, err
	}
	if tech == nil || tech.ID == "" {
		return nil, fmt.Errorf("dispatch work order %s: backend returned no technician", cached.ID)
	}

	next := cached.Clone()
	if fresh, err := d.backend.GetWorkOrder(ctx, cached.ID); err != nil {
		d.logger.Warn("work order refresh after dispatch failed",
			slog.String("work_order_id", cached.ID),
			slog.String("error", err.Error()))
	} else if fresh != nil && fresh.ID != "" {
		next = fresh.Clone()
		if len(next.Checklist) == 0 {
			next.Checklist = cached.Clone().Checklist
		}
	}
	next.Technician = tech.Ref()
	if err := d.cache.PutWorkOrder(next); err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}
	d.refreshTechnicians(ctx)
	return &Result{WorkOrder: next, Technician: tech}, nil
}

func (d *Dispatcher) run(s Strategy, workOrderID, technicianID string, fn func() (*Result, error)) (*Result, error) {
	v, err, shared := d.group.Do(key(s, workOrderID, technicianID), func() (any, error) {
		return fn()
	})
	if err != nil {
		d.logger.Warn("assignment rejected",
			slog.String("strategy", string(s)),
			slog.String("work_order_id", workOrderID),
			slog.String("error", err.Error()))
		return nil, err
	}
	res := *v.(*Result)
	res.Shared = shared
	if shared {
		d.logger.Info("assignment coalesced with request in flight",
			slog.String("strategy", string(s)),
			slog.String("work_order_id", workOrderID))
	} else {
		d.logger.Info("work order assigned",
			slog.String("strategy", string(s)),
			slog.String("work_order_id", workOrderID),
			slog.String("technician_id", res.WorkOrder.Technician.ID))
	}
	return &res, nil
}

func (d *Dispatcher) refreshTechnicians(ctx context.Context) {
	techs, err := d.backend.ListTechnicians(ctx)
	if err != nil {
		d.logger.Warn("technician refresh after assignment failed", slog.String("error", err.Error()))
		return
	}
	if err := d.cache.ReplaceTechnicians(techs); err != nil {
		d.logger.Warn("technician cache update failed", slog.String("error", err.Error()))
	}
}

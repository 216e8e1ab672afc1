package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/fieldops/internal/config"
)

// SessionCache is the read side of the active session.
type SessionCache interface {
	WorkOrderReader
	Directory
}

// Services are the components the local API drives. The daemon wires the
// session manager, workflow controller and trackers in here.
type Services struct {
	Sessions  SessionManager
	Cache     SessionCache
	Workflow  Workflow
	Checklist ChecklistTracker
	Dispatch  Assigner
	Timers    TimeTracker
	Location  LocationSource
	Events    EventSource
	// OnSessionStart runs after a session opens, typically to trigger a refresh.
	OnSessionStart func()
	// OnReset runs after unsynced local data is discarded.
	OnReset func()
}

func SetupRoutes(cfg *config.Config, version, buildTime string, svc Services) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware(cfg.CORSOrigins))
	r.Use(RecoveryMiddleware)

	systemHandler := &SystemHandler{Sessions: svc.Sessions}
	sessionHandler := NewSessionHandler(svc.Sessions, cfg.JWTSecret, cfg.TokenDuration, svc.OnSessionStart)
	ordersHandler := NewWorkOrdersHandler(svc.Cache, svc.Workflow)
	checklistHandler := NewChecklistHandler(svc.Checklist)
	dispatchHandler := NewDispatchHandler(svc.Dispatch)
	timersHandler := NewTimersHandler(svc.Timers)
	overviewHandler := NewOverviewHandler(svc.Cache, svc.Location)
	eventsHandler := NewEventsHandler(svc.Events, 0)
	localStateHandler := NewLocalStateHandler(svc.Timers, svc.Checklist, svc.OnReset)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/session", sessionHandler.Open).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))
	apiV1.Use(SessionBindingMiddleware(svc.Sessions))

	apiV1.HandleFunc("/session", sessionHandler.Close).Methods("DELETE")
	apiV1.HandleFunc("/local-state", localStateHandler.Reset).Methods("DELETE")

	// Work orders
	apiV1.HandleFunc("/work-orders", ordersHandler.List).Methods("GET")
	apiV1.HandleFunc("/work-orders/{id}", ordersHandler.Get).Methods("GET")
	apiV1.HandleFunc("/work-orders/{id}/checkin", ordersHandler.CheckIn).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/start", ordersHandler.Start).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/complete", ordersHandler.Complete).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/cancel", ordersHandler.Cancel).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/followup", ordersHandler.Followup).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/advance", ordersHandler.Advance).Methods("POST")

	// Checklist
	apiV1.HandleFunc("/work-orders/{id}/checklist/{itemId}", checklistHandler.Toggle).Methods("PUT")
	apiV1.HandleFunc("/work-orders/{id}/checklist/{itemId}/evidence", checklistHandler.AttachEvidence).Methods("POST")

	// Dispatch
	apiV1.HandleFunc("/work-orders/{id}/assign/{technicianId}", dispatchHandler.Assign).Methods("PUT")
	apiV1.HandleFunc("/work-orders/{id}/dispatch/intelligent", dispatchHandler.Intelligent).Methods("POST")
	apiV1.HandleFunc("/work-orders/{id}/dispatch/emergency", dispatchHandler.Emergency).Methods("POST")

	// Time tracking
	apiV1.HandleFunc("/timers", timersHandler.Start).Methods("POST")
	apiV1.HandleFunc("/timers/active", timersHandler.Active).Methods("GET")
	apiV1.HandleFunc("/timers/{id}/stop", timersHandler.Stop).Methods("POST")
	apiV1.HandleFunc("/time-entries", timersHandler.Entries).Methods("GET")
	apiV1.HandleFunc("/timesheet", timersHandler.Timesheet).Methods("GET")

	// Technicians, summary, device location
	apiV1.HandleFunc("/technicians", overviewHandler.Technicians).Methods("GET")
	apiV1.HandleFunc("/dashboard/summary", overviewHandler.Summary).Methods("GET")
	apiV1.HandleFunc("/location", overviewHandler.UpdateLocation).Methods("POST")
	apiV1.HandleFunc("/location", overviewHandler.Location).Methods("GET")

	apiV1.HandleFunc("/events", eventsHandler.Stream).Methods("GET")

	return r
}

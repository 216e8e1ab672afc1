package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	muxpkg "github.com/gorilla/mux"

	migrations "github.com/garnizeh/fieldops/db"
	"github.com/garnizeh/fieldops/internal/db"
	"github.com/garnizeh/fieldops/internal/repository/sqlite"
	"github.com/garnizeh/fieldops/pkg/models"
)

const prefix = "/api/v1/field-operations"

type fakeBackend struct {
	*httptest.Server
	dispatches atomic.Int32
	creates    atomic.Int32
	auth       atomic.Value
	created    atomic.Value
}

func newFakeBackend(t *testing.T, wo models.WorkOrder) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	mux := muxpkg.NewRouter()
	mux.HandleFunc(prefix+"/work-orders", func(w http.ResponseWriter, r *http.Request) {
		fb.auth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]models.WorkOrder{wo})
	}).Methods("GET")
	mux.HandleFunc(prefix+"/work-orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wo)
	}).Methods("GET")
	mux.HandleFunc(prefix+"/work-orders/{id}/dispatch/{strategy}", func(w http.ResponseWriter, r *http.Request) {
		fb.dispatches.Add(1)
		json.NewEncoder(w).Encode(models.Technician{ID: "t9", FullName: "Dana Reyes", CurrentStatus: models.TechOnJob})
	}).Methods("POST")
	mux.HandleFunc(prefix+"/work-orders", func(w http.ResponseWriter, r *http.Request) {
		fb.creates.Add(1)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		fb.created.Store(req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.WorkOrder{ID: "wo-9", WorkOrderNumber: "WO-0009", Status: models.StatusDraft, Title: "Install ONT"})
	}).Methods("POST")
	mux.HandleFunc(prefix+"/technicians", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Technician{})
	}).Methods("GET")
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Close)
	return fb
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkOrdersList(t *testing.T) {
	fb := newFakeBackend(t, models.WorkOrder{
		ID: "wo-1", WorkOrderNumber: "WO-0001", Title: "Replace router",
		Status: models.StatusScheduled, Priority: models.PriorityHigh, ProgressPercentage: 50,
	})

	out, err := run(t, "", "workorders", "--backend", fb.URL, "--token", "abc", "--status", "scheduled")
	if err != nil {
		t.Fatalf("workorders: %v", err)
	}
	for _, want := range []string{"WO-0001", "scheduled", "50%", "Replace router"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if got := fb.auth.Load(); got != "Bearer abc" {
		t.Fatalf("expected bearer token, got %v", got)
	}

	if _, err := run(t, "", "workorders", "--backend", fb.URL, "--token", "abc", "--status", "bogus"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestCreateWorkOrder(t *testing.T) {
	fb := newFakeBackend(t, models.WorkOrder{})

	_, err := run(t, "", "create", "--backend", fb.URL, "--token", "abc", "--title", "Install ONT", "--type", "teleport")
	if err == nil || !strings.Contains(err.Error(), "work_order_type") {
		t.Fatalf("expected local validation error naming the field, got %v", err)
	}
	if n := fb.creates.Load(); n != 0 {
		t.Fatalf("invalid request reached backend %d times", n)
	}

	out, err := run(t, "", "create", "--backend", fb.URL, "--token", "abc",
		"--title", "Install ONT", "--type", "installation", "--customer", "c-1",
		"--address", "Rua A, 10", "--date", "2025-03-04", "--required-item", "Photo of ONT", "--item", "Tidy cables")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "created wo-9 (WO-0009) draft") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	req, _ := fb.created.Load().(map[string]any)
	if req["priority"] != "normal" || req["customer_id"] != "c-1" {
		t.Fatalf("unexpected request body %v", req)
	}
	items, _ := req["checklist_items"].([]any)
	if len(items) != 2 || items[0].(map[string]any)["required"] != true {
		t.Fatalf("expected required item first, got %v", items)
	}
}

func TestMissingToken(t *testing.T) {
	t.Setenv("FIELDOPS_TOKEN", "")
	if _, err := run(t, "", "summary", "--backend", "http://127.0.0.1:1"); err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestEmergencyDispatchPrompt(t *testing.T) {
	fb := newFakeBackend(t, models.WorkOrder{
		ID: "wo-2", WorkOrderNumber: "WO-0002", Title: "Gas leak",
		Status: models.StatusScheduled, Priority: models.PriorityEmergency,
	})

	out, err := run(t, "n\n", "dispatch", "wo-2", "--emergency", "--backend", fb.URL, "--token", "abc")
	if err == nil {
		t.Fatalf("declined dispatch must fail")
	}
	if !strings.Contains(out, "Emergency dispatch for WO-0002") {
		t.Fatalf("prompt not shown:\n%s", out)
	}
	if n := fb.dispatches.Load(); n != 0 {
		t.Fatalf("declined dispatch reached backend %d times", n)
	}

	out, err = run(t, "yes\n", "dispatch", "wo-2", "--emergency", "--backend", fb.URL, "--token", "abc")
	if err != nil {
		t.Fatalf("confirmed dispatch: %v", err)
	}
	if !strings.Contains(out, "wo-2 assigned to Dana Reyes") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if n := fb.dispatches.Load(); n != 1 {
		t.Fatalf("expected one dispatch, got %d", n)
	}
}

func TestEmergencyDispatchRequiresEmergencyPriority(t *testing.T) {
	fb := newFakeBackend(t, models.WorkOrder{ID: "wo-3", Priority: models.PriorityNormal, Status: models.StatusScheduled})

	if _, err := run(t, "", "dispatch", "wo-3", "--emergency", "--yes", "--backend", fb.URL, "--token", "abc"); err == nil {
		t.Fatalf("expected non-emergency order to be refused")
	}
	if n := fb.dispatches.Load(); n != 0 {
		t.Fatalf("refused dispatch reached backend %d times", n)
	}
}

func TestPrintTechnicians(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	seen := now.Add(-2 * time.Hour)
	rating := 4.5
	var buf bytes.Buffer
	err := printTechnicians(&buf, []models.Technician{
		{ID: "t1", FullName: "Ana Lima", CurrentStatus: models.TechAvailable, AverageJobRating: &rating, LastActive: &seen},
		{ID: "t2", FullName: "Bo Chen", CurrentStatus: models.TechOffDuty},
	}, now)
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Ana Lima", "4.5", "2 hours ago", "never"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTimesheetExport(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agent.db")
	t.Setenv("FIELDOPS_DATABASE_PATH", dbPath)

	ctx := context.Background()
	database, err := db.New(ctx, dbPath, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(ctx, database, migrations.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	entry := &models.TimeEntry{ID: "e1", WorkOrderID: "wo-1", TechnicianID: "t1", ActivityType: models.ActivityWork, StartTime: start}
	repo := sqlite.New(database, nil)
	if err := repo.CreateTimeEntry(ctx, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := entry.Close(start.Add(45 * time.Minute)); err != nil {
		t.Fatalf("close entry: %v", err)
	}
	if err := repo.CloseTimeEntry(ctx, entry); err != nil {
		t.Fatalf("persist close: %v", err)
	}
	database.Close()

	target := filepath.Join(dir, "sheet.xlsx")
	out, err := run(t, "", "timesheet", "--work-order", "wo-1", "--tz", "UTC", "-o", target)
	if err != nil {
		t.Fatalf("timesheet: %v", err)
	}
	if !strings.Contains(out, "1 entries written") {
		t.Fatalf("unexpected output: %s", out)
	}
	b, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read workbook: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("PK")) {
		t.Fatalf("workbook is not a zip archive")
	}
}

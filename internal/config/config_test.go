package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garnizeh/fieldops/internal/config"
)

func TestValidate_InsecureJWT_FailsWhenNotDevelopment(t *testing.T) {
	t.Setenv("FIELDOPS_ENV", "production")

	cfg := &config.Config{
		JWTSecret:    "supersecretkey",
		DatabasePath: "fieldops.db",
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail for insecure JWT in non-development env")
	}
}

func TestValidate_InsecureJWT_AllowsDevelopment(t *testing.T) {
	t.Setenv("FIELDOPS_ENV", "development")

	cfg := &config.Config{
		JWTSecret:    "supersecretkey",
		DatabasePath: "fieldops.db",
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected Validate to succeed in development env, got: %v", err)
	}
}

func TestValidate_DefaultsPopulated(t *testing.T) {
	t.Setenv("FIELDOPS_ENV", "development")

	cfg := &config.Config{
		JWTSecret:    "strongsecret",
		DatabasePath: "fieldops.db",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed unexpectedly: %v", err)
	}

	def := config.DefaultBackendConfig()
	if cfg.Backend.BaseURL != def.BaseURL {
		t.Fatalf("expected default base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.CircuitFailureThreshold != def.CircuitFailureThreshold {
		t.Fatalf("expected default circuit threshold, got %d", cfg.Backend.CircuitFailureThreshold)
	}
	if cfg.Refresh.Interval != 30*time.Second {
		t.Fatalf("expected 30s refresh interval, got %s", cfg.Refresh.Interval)
	}
	if cfg.Sync.Workers <= 0 || cfg.Sync.MaxAttempts <= 0 {
		t.Fatalf("sync defaults not set: %+v", cfg.Sync)
	}
}

func TestValidate_StorageNeedsBucket(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:    "strongsecret",
		DatabasePath: "fieldops.db",
		Storage:      config.StorageConfig{Endpoint: "localhost:9000"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when bucket is missing")
	}
}

func TestLoadConfig_EnvAndYAML(t *testing.T) {
	t.Setenv("FIELDOPS_BACKEND_URL", "http://env-backend:9000")
	t.Setenv("FIELDOPS_REFRESH_INTERVAL", "45s")
	t.Setenv("FIELDOPS_STRICT_CHECKLIST", "true")
	t.Setenv("FIELDOPS_CORS_ORIGINS", "http://localhost:5173, ,https://ops.example.com")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend.BaseURL != "http://env-backend:9000" {
		t.Fatalf("env base url not applied: %q", cfg.Backend.BaseURL)
	}
	if cfg.Refresh.Interval != 45*time.Second {
		t.Fatalf("env interval not applied: %s", cfg.Refresh.Interval)
	}
	if !cfg.Workflow.StrictChecklist {
		t.Fatalf("env strict checklist not applied")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://ops.example.com" {
		t.Fatalf("env cors origins not applied: %v", cfg.CORSOrigins)
	}

	path := filepath.Join(t.TempDir(), "fieldops.yaml")
	yml := "addr: \":9090\"\nbackend:\n  base_url: http://yaml-backend\n  retries: 4\nworkflow:\n  strict_checklist: false\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err = config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig(yaml): %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Backend.BaseURL != "http://yaml-backend" || cfg.Backend.Retries != 4 {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.Workflow.StrictChecklist {
		t.Fatalf("yaml should override env strict checklist")
	}
	if cfg.Refresh.Interval != 45*time.Second {
		t.Fatalf("env value should survive when yaml omits it")
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const insecureJWTSecret = "supersecretkey"

type Config struct {
	Addr          string          `yaml:"addr"`
	JWTSecret     string          `yaml:"jwt_secret"`
	APITimeout    time.Duration   `yaml:"timeout"`
	DatabasePath  string          `yaml:"database_path"`
	TokenDuration time.Duration   `yaml:"token_duration"`
	Backend       BackendConfig   `yaml:"backend"`
	Refresh       RefreshConfig   `yaml:"refresh"`
	Sync          SyncConfig      `yaml:"sync"`
	Storage       StorageConfig   `yaml:"storage"`
	Workflow      WorkflowConfig  `yaml:"workflow"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	// CORSOrigins lists browser origins allowed to call the local API.
	// Empty means same-origin only.
	CORSOrigins []string `yaml:"cors_origins"`
}

// BackendConfig configures the field-operations REST client.
type BackendConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Timeout                 time.Duration `yaml:"timeout"`
	Retries                 int           `yaml:"retries"`
	Backoff                 time.Duration `yaml:"backoff"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Filter narrows the periodic work-order fetch.
	Statuses     []string `yaml:"statuses"`
	TechnicianID string   `yaml:"technician_id"`
}

type SyncConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`
}

// StorageConfig points at the S3-compatible bucket holding evidence uploads.
// An empty Endpoint disables uploads; evidence then travels inline.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type WorkflowConfig struct {
	// StrictChecklist refuses completion while required items are open.
	StrictChecklist bool `yaml:"strict_checklist"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultBackendConfig returns the client settings used when none are configured.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:                 "http://localhost:8000",
		Timeout:                 15 * time.Second,
		Retries:                 2,
		Backoff:                 500 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

func LoadConfig(path string) (*Config, error) {
	backend := DefaultBackendConfig()
	backend.BaseURL = getEnv("FIELDOPS_BACKEND_URL", backend.BaseURL)
	backend.Timeout = getEnvDuration("FIELDOPS_BACKEND_TIMEOUT", backend.Timeout)

	cfg := &Config{
		Addr:          getEnv("FIELDOPS_ADDR", ":8080"),
		JWTSecret:     getEnv("FIELDOPS_JWT_SECRET", insecureJWTSecret),
		APITimeout:    getEnvDuration("FIELDOPS_API_TIMEOUT", 15*time.Second),
		DatabasePath:  getEnv("FIELDOPS_DATABASE_PATH", "fieldops.db"),
		TokenDuration: getEnvDuration("FIELDOPS_TOKEN_DURATION", 8*time.Hour),
		CORSOrigins:   getEnvList("FIELDOPS_CORS_ORIGINS"),
		Backend:       backend,
		Refresh: RefreshConfig{
			Interval: getEnvDuration("FIELDOPS_REFRESH_INTERVAL", 30*time.Second),
		},
		Sync: SyncConfig{
			Workers:     getEnvInt("FIELDOPS_SYNC_WORKERS", 2),
			MaxAttempts: getEnvInt("FIELDOPS_SYNC_MAX_ATTEMPTS", 8),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("FIELDOPS_MINIO_ENDPOINT", ""),
			AccessKey: getEnv("FIELDOPS_MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("FIELDOPS_MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("FIELDOPS_MINIO_BUCKET", "field-evidence"),
			Region:    getEnv("FIELDOPS_MINIO_REGION", "us-east-1"),
			UseSSL:    getEnvBool("FIELDOPS_MINIO_USE_SSL", false),
		},
		Workflow: WorkflowConfig{
			StrictChecklist: getEnvBool("FIELDOPS_STRICT_CHECKLIST", false),
		},
		Log: LogConfig{
			Level:  getEnv("FIELDOPS_LOG_LEVEL", "info"),
			Format: getEnv("FIELDOPS_LOG_FORMAT", "json"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "fieldops"),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate fills zero values with defaults and rejects unsafe settings.
func (c *Config) Validate() error {
	env := strings.ToLower(getEnv("FIELDOPS_ENV", "development"))
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.JWTSecret == insecureJWTSecret && env != "development" {
		return fmt.Errorf("jwt_secret uses the insecure default in %s", env)
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}

	def := DefaultBackendConfig()
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = def.BaseURL
	}
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = def.Timeout
	}
	if c.Backend.Retries < 0 {
		c.Backend.Retries = 0
	}
	if c.Backend.Backoff <= 0 {
		c.Backend.Backoff = def.Backoff
	}
	if c.Backend.CircuitFailureThreshold <= 0 {
		c.Backend.CircuitFailureThreshold = def.CircuitFailureThreshold
	}
	if c.Backend.CircuitReset <= 0 {
		c.Backend.CircuitReset = def.CircuitReset
	}
	if c.Refresh.Interval <= 0 {
		c.Refresh.Interval = 30 * time.Second
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 2
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 8
	}
	if c.TokenDuration <= 0 {
		c.TokenDuration = 8 * time.Hour
	}
	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required when storage.endpoint is set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

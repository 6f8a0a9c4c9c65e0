package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "rewryte.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REWRYTE_PORT")
	setString(&cfg.Server.CORSOrigin, "REWRYTE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REWRYTE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REWRYTE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REWRYTE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REWRYTE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REWRYTE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "REWRYTE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REWRYTE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REWRYTE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "REWRYTE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REWRYTE_BREAKER_TIMEOUT")

	// Workflow engine
	setString(&cfg.Workflow.WebhookURL, "REWRYTE_WORKFLOW_URL")
	setString(&cfg.Workflow.AuthHeader, "REWRYTE_WORKFLOW_AUTH_HEADER")
	setString(&cfg.Workflow.AuthValue, "REWRYTE_WORKFLOW_AUTH_VALUE")
	setString(&cfg.Workflow.Source, "REWRYTE_WORKFLOW_SOURCE")
	setDuration(&cfg.Workflow.Timeout, "REWRYTE_WORKFLOW_TIMEOUT")
	setDuration(&cfg.Workflow.ConnectTimeout, "REWRYTE_WORKFLOW_CONNECT_TIMEOUT")
	setInt(&cfg.Workflow.RetryAttempts, "REWRYTE_WORKFLOW_RETRY_ATTEMPTS")
	setDurations(&cfg.Workflow.RetryDelays, "REWRYTE_WORKFLOW_RETRY_DELAYS")
	setString(&cfg.Workflow.CallbackSecret, "REWRYTE_CALLBACK_SECRET")

	// Dispatch job
	setInt(&cfg.Dispatch.MaxAttempts, "REWRYTE_DISPATCH_MAX_ATTEMPTS")
	setDurations(&cfg.Dispatch.Backoff, "REWRYTE_DISPATCH_BACKOFF")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "REWRYTE_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "REWRYTE_OTEL_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// setDurations parses a comma-separated duration list, e.g. "1s,2s,3s".
func setDurations(dst *[]time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return
		}
		out = append(out, d)
	}
	*dst = out
}

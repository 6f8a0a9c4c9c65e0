package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Workflow.RetryAttempts)
	}
	if cfg.Workflow.Timeout != 30*time.Second {
		t.Errorf("expected workflow timeout 30s, got %v", cfg.Workflow.Timeout)
	}
	if len(cfg.Workflow.RetryDelays) != 3 || cfg.Workflow.RetryDelays[0] != time.Second {
		t.Errorf("unexpected default retry delays %v", cfg.Workflow.RetryDelays)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected dispatch max attempts 3, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
workflow:
  webhook_url: "https://engine.example.com/hooks/rework"
  retry_attempts: 5
  retry_delays: [500ms, 1s]
dispatch:
  max_attempts: 4
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Workflow.WebhookURL != "https://engine.example.com/hooks/rework" {
		t.Errorf("unexpected webhook url %s", cfg.Workflow.WebhookURL)
	}
	if cfg.Workflow.RetryAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", cfg.Workflow.RetryAttempts)
	}
	if len(cfg.Workflow.RetryDelays) != 2 || cfg.Workflow.RetryDelays[0] != 500*time.Millisecond {
		t.Errorf("unexpected retry delays %v", cfg.Workflow.RetryDelays)
	}
	if cfg.Dispatch.MaxAttempts != 4 {
		t.Errorf("expected dispatch max attempts 4, got %d", cfg.Dispatch.MaxAttempts)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("REWRYTE_WORKFLOW_RETRY_ATTEMPTS", "7")
	t.Setenv("REWRYTE_WORKFLOW_RETRY_DELAYS", "250ms, 500ms, 750ms")
	t.Setenv("REWRYTE_CALLBACK_SECRET", "shh")

	cfg := Defaults()
	loadEnv(&cfg)

	if cfg.Workflow.RetryAttempts != 7 {
		t.Errorf("expected 7 retry attempts, got %d", cfg.Workflow.RetryAttempts)
	}
	if len(cfg.Workflow.RetryDelays) != 3 || cfg.Workflow.RetryDelays[2] != 750*time.Millisecond {
		t.Errorf("unexpected retry delays %v", cfg.Workflow.RetryDelays)
	}
	if cfg.Workflow.CallbackSecret != "shh" {
		t.Errorf("expected callback secret override, got %q", cfg.Workflow.CallbackSecret)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}

	bad := Defaults()
	bad.Dispatch.MaxAttempts = 0
	if err := validate(&bad); err == nil {
		t.Error("expected error for zero dispatch attempts")
	}

	bad = Defaults()
	bad.Postgres.DSN = ""
	if err := validate(&bad); err == nil {
		t.Error("expected error for empty DSN")
	}
}

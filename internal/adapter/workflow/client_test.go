package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewryte/rewryte/internal/config"
	"github.com/rewryte/rewryte/internal/port/workflow"
)

func testConfig(url string) config.Workflow {
	return config.Workflow{
		WebhookURL:    url,
		AuthHeader:    "Authorization",
		AuthValue:     "Bearer test-token",
		Source:        "rewryte-test",
		Timeout:       5 * time.Second,
		RetryAttempts: 3,
		RetryDelays:   []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(testConfig(url))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// Don't slow the suite down with real backoff sleeps.
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

var triggerReq = workflow.TriggerRequest{
	TaskID:          "task-1",
	ReferenceScript: "console.log(1)",
	OutcomeGoal:     "add docs",
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Workflow)
	}{
		{"missing url", func(c *config.Workflow) { c.WebhookURL = "" }},
		{"bad url", func(c *config.Workflow) { c.WebhookURL = "://not a url" }},
		{"relative url", func(c *config.Workflow) { c.WebhookURL = "engine/hooks" }},
		{"missing auth header", func(c *config.Workflow) { c.AuthHeader = "" }},
		{"missing auth value", func(c *config.Workflow) { c.AuthValue = "" }},
		{"zero timeout", func(c *config.Workflow) { c.Timeout = 0 }},
		{"zero attempts", func(c *config.Workflow) { c.RetryAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("https://engine.example.com/hook")
			tt.mutate(&cfg)
			_, err := NewClient(cfg)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestTriggerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing auth header")
		}
		if r.Header.Get("X-Source") != "rewryte-test" {
			t.Errorf("missing source header")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"workflow_id":"wf-9"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Trigger(context.Background(), triggerReq)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if resp["workflow_id"] != "wf-9" {
		t.Errorf("expected workflow_id wf-9, got %v", resp["workflow_id"])
	}
	if resp["success"] != true {
		t.Errorf("expected success defaulted to true, got %v", resp["success"])
	}
}

func TestTriggerEmptyBodySubstitutesMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Trigger(context.Background(), triggerReq)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if resp["success"] != true {
		t.Errorf("expected success=true for empty body, got %v", resp)
	}
}

func TestTriggerUnparsableBodySubstitutesMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Trigger(context.Background(), triggerReq)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(resp) != 1 || resp["success"] != true {
		t.Errorf("expected bare success map, got %v", resp)
	}
}

func TestTriggerExhaustsRetriesOn503(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Trigger(context.Background(), triggerReq)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", httpErr.Status)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts before raising, got %d", got)
	}
}

func TestTriggerRecoversMidRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Trigger(context.Background(), triggerReq)
	if err != nil {
		t.Fatalf("expected recovery on 3rd attempt, got %v", err)
	}
	if resp["success"] != true {
		t.Errorf("unexpected response %v", resp)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestTriggerConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	c := newTestClient(t, srv.URL)
	_, err := c.Trigger(context.Background(), triggerReq)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if connErr.URL != srv.URL {
		t.Errorf("expected error to carry URL %s, got %s", srv.URL, connErr.URL)
	}
}

func TestTriggerSleepsBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryDelays = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, _ = c.Trigger(context.Background(), triggerReq)

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps (none after the final attempt), got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestTriggerStopsWhenContextCancelled(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Trigger(ctx, triggerReq)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected retries to stop after cancellation, got %d attempts", got)
	}
}

func TestIsAvailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"not found still counts", http.StatusNotFound, true},
		{"method not allowed still counts", http.StatusMethodNotAllowed, true},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			if got := c.IsAvailable(context.Background()); got != tt.want {
				t.Errorf("IsAvailable = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()
		c := newTestClient(t, srv.URL)
		if c.IsAvailable(context.Background()) {
			t.Error("expected unavailable for refused connection")
		}
	})
}

package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/rewryte/rewryte/internal/config"
)

func TestNew(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc"})
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	l, closer := New(config.Logging{Level: "debug", Service: "test-svc", Async: true})
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// countingHandler counts records handled.
type countingHandler struct {
	n atomic.Int64
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h *countingHandler) Handle(_ context.Context, _ slog.Record) error { //nolint:gocritic // interface
	h.n.Add(1)
	return nil
}
func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func TestAsyncHandlerDrainsOnClose(t *testing.T) {
	inner := &countingHandler{}
	h := NewAsyncHandler(inner, 16)
	l := slog.New(h)

	for range 10 {
		l.Info("msg")
	}
	h.Close()

	if got := inner.n.Load(); got != 10 {
		t.Errorf("expected 10 records handled, got %d", got)
	}
	if h.DroppedCount() != 0 {
		t.Errorf("expected no drops, got %d", h.DroppedCount())
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

package logger

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger, closer, err := Init("test-service", LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestInit_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.log")
	_, closer, err := Init("test-service", LogConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Printf("[test] lifecycle line")
	slog.Debug("structured line", "target", "okx:BTC-USDT:15m")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[test] lifecycle line") {
		t.Errorf("standard log output not routed to file: %s", out)
	}
	if !strings.Contains(out, `"target":"okx:BTC-USDT:15m"`) {
		t.Errorf("structured attrs missing: %s", out)
	}
	if !strings.Contains(out, `"service":"test-service"`) {
		t.Errorf("service attr missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"", slog.LevelInfo, true},
		{"WARN", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%q: expected error", tt.in)
		}
		if got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	// Set and retrieve
	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("okx:BTC-USDT:15m", ts)

	if tid == "" {
		t.Fatal("expected non-empty trace id")
	}
	if !strings.HasPrefix(tid, "okx:BTC-USDT:15m-") {
		t.Errorf("expected trace id to start with the target key, got %s", tid)
	}
	// Verify it contains the nano timestamp
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	// No trace ID
	attrs := LogWithTrace(ctx)
	if attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	// With trace ID
	ctx = WithTraceID(ctx, "abc-123")
	attrs = LogWithTrace(ctx)
	if len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with trace id set")
	}
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("visible", "code", "abc123")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "visible" {
		t.Errorf("msg = %v, want %q", entry["msg"], "visible")
	}
	if entry["code"] != "abc123" {
		t.Errorf("code = %v, want %q", entry["code"], "abc123")
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "text").Debug("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func withBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug", "json"))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func decodeLast(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	return entry
}

func TestFromContext_RequestID(t *testing.T) {
	buf := withBuffer(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	FromContext(ctx).Info("with id")

	entry := decodeLast(t, buf)
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want %q", entry["request_id"], "req-42")
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
}

func TestFromContext_TraceIDs(t *testing.T) {
	buf := withBuffer(t)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	WithFields(ctx, "import_id", "imp-1").Info("traced")

	entry := decodeLast(t, buf)
	if entry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
	if entry["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("span_id = %v", entry["span_id"])
	}
	if entry["import_id"] != "imp-1" {
		t.Errorf("import_id = %v, want %q", entry["import_id"], "imp-1")
	}
}

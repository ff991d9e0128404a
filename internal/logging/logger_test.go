package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"debugbridge/internal/logging"
)

func TestNewLogger_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.With("component", "remote").Warn("kept", "attempt", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["msg"] != "kept" || rec["component"] != "remote" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNewLogger_PrettyAndUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(logging.Options{Format: "pretty", Output: &buf})
	if err != nil {
		t.Fatalf("pretty: %v", err)
	}
	logger.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected pretty output, got %q", buf.String())
	}

	if _, err := logging.NewLogger(logging.Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestFromContext_ReturnsAttachedLogger(t *testing.T) {
	logger := logging.Discard()
	ctx := logging.WithLogger(context.Background(), logger)
	if got := logging.FromContext(ctx); got != logger {
		t.Fatalf("expected attached logger")
	}
	if logging.FromContext(context.Background()) == nil {
		t.Fatalf("expected fallback logger")
	}
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"spendly.app/internal/auth"
	"spendly.app/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.Identity{SubjectID: "user-42"})

	if err := LogEvent(ctx, "auth.logout.revoke_all", map[string]any{"revoked": 2}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["level"] != "info" {
		t.Fatalf("unexpected type/level: %v %v", entry["type"], entry["level"])
	}
	if entry["event"] != "auth.logout.revoke_all" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["subject_id"] != "user-42" {
		t.Fatalf("unexpected subject id: %v", entry["subject_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["revoked"] != float64(2) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventReuseIsWarn(t *testing.T) {
	buf := captureLog(t)
	if err := LogEvent(context.Background(), "auth.refresh.reuse_detected", nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected warn level, got %v", entry["level"])
	}
	if _, ok := entry["subject_id"]; ok {
		t.Fatal("anonymous context must not carry subject_id")
	}
}

func TestLogEventRequiresName(t *testing.T) {
	buf := captureLog(t)
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
	if strings.TrimSpace(buf.String()) != "" {
		t.Fatal("nothing should be logged")
	}
}

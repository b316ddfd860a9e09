package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return payload
}

func TestWarnWithContextKeepsCallerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))

	WarnWithContext(logger, "moderation unavailable", "moderation_skipped",
		String(FieldImpact, "asset stays pending review"),
	)
	payload := decodeLine(t, &buf)
	if payload[FieldEventType] != "moderation_skipped" {
		t.Fatalf("event type missing: %v", payload)
	}
	if payload[FieldImpact] != "asset stays pending review" {
		t.Fatalf("caller impact overwritten: %v", payload)
	}
	if payload[FieldErrorHint] != defaultErrorHint {
		t.Fatalf("default hint missing: %v", payload)
	}
}

func TestErrorWithContextNilLogger(t *testing.T) {
	ErrorWithContext(nil, "ignored", "noop", Error(errors.New("x")))
}

func TestBytesGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	logger.Info("stored", Bytes("byte_size", 1536))

	group, ok := decodeLine(t, &buf)["byte_size"].(map[string]any)
	if !ok {
		t.Fatalf("expected group, got %s", buf.String())
	}
	if group["n"] != float64(1536) || group["human"] != "1.5 KiB" {
		t.Fatalf("unexpected group %v", group)
	}
}

func TestJSONTimestampHasMilliseconds(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	logger.Info("tick")
	ts, _ := decodeLine(t, &buf)["ts"].(string)
	if len(ts) != len("2026-01-02T15:04:05.000Z") {
		t.Fatalf("unexpected ts %q", ts)
	}
}

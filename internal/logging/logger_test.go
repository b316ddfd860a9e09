package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipstitch/internal/config"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "clipstitch.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerRendersSubjectPrefix(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "0123456789abcdef")
	ctx = services.WithStage(ctx, "compress")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "merge")).Info("stage started", logging.Int("attempt", 1))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "merge · job 01234567 (compress): stage started") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "attempt=1") {
		t.Fatalf("expected attempt attr, got %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no colour codes in file output, got %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithSessionID(context.Background(), "sess-1")
	ctx = services.WithChallengeID(ctx, "chal-1")
	logging.WithContext(ctx, logger).Info("chunk accepted")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload["session_id"] != "sess-1" || payload["challenge_id"] != "chal-1" {
		t.Fatalf("missing context fields: %v", payload)
	}
	if payload["level"] != "info" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
}

func TestStageOverridesRaiseVerbosityForOneStage(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "override.log")
	logger, err := logging.New(logging.Options{
		Format:         "console",
		Level:          "info",
		OutputPaths:    []string{logPath},
		StageOverrides: map[string]string{"compress": "debug"},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("hidden debug")
	logger.With(logging.String(logging.FieldStage, "compress")).Debug("compress debug")
	logger.Debug("normalize debug", logging.String(logging.FieldStage, "normalize"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if strings.Contains(text, "hidden debug") || strings.Contains(text, "normalize debug") {
		t.Fatalf("expected non-overridden debug lines suppressed, got %q", text)
	}
	if !strings.Contains(text, "compress debug") {
		t.Fatalf("expected compress debug line, got %q", text)
	}
}

func TestErrorAttrsCarrySlotAndKind(t *testing.T) {
	err := services.WithSlot(services.Wrap(services.ErrNormalize, "merge", "normalize", "ffmpeg failed", errors.New("exit 1")), 2)
	attrs := logging.ErrorAttrs(err)
	var kind string
	var slot int64 = -1
	for _, attr := range attrs {
		switch attr.Key {
		case logging.FieldErrorKind:
			kind = attr.Value.String()
		case logging.FieldSlot:
			slot = attr.Value.Int64()
		}
	}
	if kind != "normalize_failed" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if slot != 2 {
		t.Fatalf("unexpected slot %d", slot)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFormatSubject(t *testing.T) {
	cases := []struct {
		component, job, session, stage string
		want                           string
	}{
		{"upload", "", "abcdef0123", "", "upload · session abcdef01"},
		{"merge", "job1", "", "finalize", "merge · job job1 (finalize)"},
		{"", "", "", "sweep", "sweep"},
		{"", "", "", "", ""},
	}
	for _, tc := range cases {
		if got := logging.FormatSubject(tc.component, tc.job, tc.session, tc.stage); got != tc.want {
			t.Fatalf("FormatSubject(%q,%q,%q,%q) = %q, want %q", tc.component, tc.job, tc.session, tc.stage, got, tc.want)
		}
	}
}

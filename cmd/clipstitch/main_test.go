package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipstitch/internal/config"
	"clipstitch/internal/segments"
	"clipstitch/internal/store"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	body := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n", filepath.Join(base, "data"), filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func (e *cliTestEnv) seed(t *testing.T, fn func(st *store.Store)) {
	t.Helper()
	st, err := store.Open(e.cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	fn(st)
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", e.configPath))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJobsListShowAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	env.seed(t, func(st *store.Store) {
		if _, _, err := st.EnqueueJob(ctx, "job-1", "ch-1", "medium"); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
		slot := 2
		if err := st.FailJob(ctx, "job-1", "normalize_failed", "statement 2 could not be normalized", &slot); err != nil {
			t.Fatalf("FailJob: %v", err)
		}
	})

	out, err := env.run(t, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "Failed") || !strings.Contains(out, "normalize_failed") {
		t.Fatalf("unexpected jobs list output:\n%s", out)
	}

	out, err = env.run(t, "jobs", "show", "job-1")
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	if !strings.Contains(out, "Failed statement") || !strings.Contains(out, "2") {
		t.Fatalf("unexpected jobs show output:\n%s", out)
	}

	if _, err := env.run(t, "jobs", "retry", "job-1"); err != nil {
		t.Fatalf("jobs retry: %v", err)
	}
	_, err = env.run(t, "jobs", "retry", "job-1")
	if err == nil || !strings.Contains(err.Error(), "only failed jobs") {
		t.Fatalf("expected second retry to be refused, got %v", err)
	}
	if _, err := env.run(t, "jobs", "show", "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestSegmentsCommandPrintsBoundaries(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	env.seed(t, func(st *store.Store) {
		asset := &store.MergedAsset{
			ID:              "asset-1",
			ChallengeID:     "ch-1",
			FilePath:        filepath.Join(env.cfg.AssetsDir(), "asset-1", "merged.mp4"),
			TotalDurationMS: 12000,
			Preset:          "medium",
			Strategy:        "ffmpeg",
			Status:          store.AssetVisible,
		}
		if err := st.InsertAsset(ctx, asset, segments.FromDurations([]int64{5000, 3000, 4000})); err != nil {
			t.Fatalf("InsertAsset: %v", err)
		}
	})

	out, err := env.run(t, "segments", "asset-1", "--json")
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	for _, want := range []string{`"startMs": 5000`, `"endMs": 8000`, `"endMs": 12000`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in output:\n%s", want, out)
		}
	}

	out, err = env.run(t, "assets", "show", "asset-1")
	if err != nil {
		t.Fatalf("assets show: %v", err)
	}
	if !strings.Contains(out, "Visible") || !strings.Contains(out, "ffmpeg") {
		t.Fatalf("unexpected assets show output:\n%s", out)
	}

	if _, err := env.run(t, "segments", "missing"); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}

func TestSessionsListAndSweep(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(out, "No upload sessions") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	out, err = env.run(t, "sessions", "sweep")
	if err != nil {
		t.Fatalf("sessions sweep: %v", err)
	}
	if !strings.Contains(out, "Expired 0 session(s)") {
		t.Fatalf("unexpected sweep output:\n%s", out)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config must load: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel("pending_review", false); got != "Pending Review" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := statusLabel("failed", true); !strings.Contains(got, ansiRed) {
		t.Fatalf("expected red label, got %q", got)
	}
}

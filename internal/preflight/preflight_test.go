package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipstitch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	r := CheckDirectoryAccess("Test", t.TempDir())
	if !r.Passed {
		t.Fatalf("expected pass, got %q", r.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	r := CheckDirectoryAccess("Test", filepath.Join(t.TempDir(), "missing"))
	if r.Passed || !strings.Contains(r.Detail, "does not exist") {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := CheckDirectoryAccess("Test", file)
	if r.Passed || !strings.Contains(r.Detail, "not a directory") {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestCheckEndpoint(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer ok.Close()
	if r := CheckEndpoint(context.Background(), "Moderation", ok.URL); !r.Passed {
		t.Fatalf("expected reachable, got %+v", r)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if r := CheckEndpoint(context.Background(), "Moderation", broken.URL); r.Passed || r.Detail != "HTTP 502" {
		t.Fatalf("unexpected result %+v", r)
	}

	if r := CheckEndpoint(context.Background(), "Moderation", " "); r.Passed || r.Detail != "missing url" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if got := RunAll(context.Background(), nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestRunAll_DataTree(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := RunAll(context.Background(), cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 directory checks, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("%s failed: %s", r.Name, r.Detail)
		}
	}

	cfg.Moderation.URL = "http://127.0.0.1:1"
	results = RunAll(context.Background(), cfg)
	if last := results[len(results)-1]; last.Name != "Moderation service" || last.Passed {
		t.Fatalf("unexpected moderation result %+v", last)
	}
}

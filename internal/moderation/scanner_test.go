package moderation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipstitch/internal/config"
	"clipstitch/internal/moderation"
	"clipstitch/internal/services"
)

func TestNewScannerDefaultsToAllowAll(t *testing.T) {
	cfg := config.Default()
	scanner := moderation.NewScanner(&cfg)
	verdict, err := scanner.Scan(context.Background(), moderation.Request{AssetID: "a1"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !verdict.Approved {
		t.Fatal("expected allow-all scanner to approve")
	}
}

func TestHTTPScannerPostsRequest(t *testing.T) {
	var got moderation.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(moderation.Verdict{Approved: false, Reasons: []string{"nudity"}})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Moderation.URL = srv.URL
	cfg.Moderation.APIKey = "secret"
	verdict, err := moderation.NewScanner(&cfg).Scan(context.Background(), moderation.Request{AssetID: "a1", ChallengeID: "c1"})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if verdict.Approved || len(verdict.Reasons) != 1 || verdict.Reasons[0] != "nudity" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if got.AssetID != "a1" || got.ChallengeID != "c1" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestHTTPScannerClassifiesFailures(t *testing.T) {
	status := http.StatusBadGateway
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", status)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Moderation.URL = srv.URL
	scanner := moderation.NewScanner(&cfg)

	_, err := scanner.Scan(context.Background(), moderation.Request{AssetID: "a1"})
	if !services.Retryable(err) {
		t.Fatalf("expected 5xx to be retryable, got %v", err)
	}
	status = http.StatusBadRequest
	_, err = scanner.Scan(context.Background(), moderation.Request{AssetID: "a1"})
	if !errors.Is(err, services.ErrExternalTool) || services.Retryable(err) {
		t.Fatalf("expected non-retryable external tool error, got %v", err)
	}
}

package services_test

import (
	"context"
	"testing"

	"clipstitch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSessionID(ctx, "sess")
	ctx = services.WithChallengeID(ctx, "chal")
	ctx = services.WithJobID(ctx, "job")
	ctx = services.WithStage(ctx, "compress")
	ctx = services.WithRequestID(ctx, "req-123")

	checks := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"session", services.SessionIDFromContext, "sess"},
		{"challenge", services.ChallengeIDFromContext, "chal"},
		{"job", services.JobIDFromContext, "job"},
		{"stage", services.StageFromContext, "compress"},
		{"request", services.RequestIDFromContext, "req-123"},
	}
	for _, check := range checks {
		if got, ok := check.get(ctx); !ok || got != check.want {
			t.Fatalf("%s: got %q %v", check.name, got, ok)
		}
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.JobIDFromContext(nil); ok { //nolint:staticcheck
		t.Fatal("expected nil context to report nothing")
	}
}

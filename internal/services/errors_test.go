package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"clipstitch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCompression, "merge", "compress", "ffmpeg exited", base)
	if !errors.Is(err, services.ErrCompression) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"merge", "compress", "ffmpeg exited"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestErrorKindPrefersDomainMarker(t *testing.T) {
	tool := services.Wrap(services.ErrExternalTool, "ffmpeg", "run", "exit status 1", nil)
	err := services.Wrap(services.ErrCompression, "merge", "compress", "all strategies failed", tool)
	if kind := services.ErrorKind(err); kind != "compression_failed" {
		t.Fatalf("unexpected kind %q", kind)
	}
	if kind := services.ErrorKind(errors.New("plain")); kind != "internal" {
		t.Fatalf("unexpected kind for plain error %q", kind)
	}
	if kind := services.ErrorKind(nil); kind != "" {
		t.Fatalf("expected empty kind for nil, got %q", kind)
	}
}

func TestMarkerForKindRoundTrip(t *testing.T) {
	for _, marker := range []error{services.ErrNormalize, services.ErrMergeTimeout, services.ErrIntegrity} {
		kind := services.ErrorKind(marker)
		if got := services.MarkerForKind(kind); got != marker {
			t.Fatalf("MarkerForKind(%q) = %v, want %v", kind, got, marker)
		}
	}
	if services.MarkerForKind("nope") != nil {
		t.Fatal("expected nil for unknown kind")
	}
}

func TestSlotSurvivesWrapping(t *testing.T) {
	inner := services.WithSlot(services.Wrap(services.ErrUnprocessableMedia, "assemble", "probe", "no video stream", nil), 1)
	outer := fmt.Errorf("complete upload: %w", inner)
	slot, ok := services.SlotFromError(outer)
	if !ok || slot != 1 {
		t.Fatalf("expected slot 1, got %d %v", slot, ok)
	}
	if !errors.Is(outer, services.ErrUnprocessableMedia) {
		t.Fatalf("expected marker through slot wrapper")
	}
	if again := services.WithSlot(outer, 2); again != outer {
		t.Fatal("expected existing slot to be kept")
	}
	if services.WithSlot(nil, 0) != nil {
		t.Fatal("expected nil passthrough")
	}
	if _, ok := services.SlotFromError(errors.New("x")); ok {
		t.Fatal("expected no slot on plain error")
	}
}

func TestRetryableOnlyForBareTransient(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrTransient, "merge", "claim", "db busy", nil)) {
		t.Fatal("expected transient error to be retryable")
	}
	compression := services.Wrap(services.ErrCompression, "merge", "compress", "", services.ErrTransient)
	if services.Retryable(compression) {
		t.Fatal("compression failures exhaust their own retries")
	}
	if services.Retryable(errors.New("plain")) {
		t.Fatal("unclassified errors are not retryable")
	}
}

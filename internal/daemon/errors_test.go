package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"clipstitch/internal/services"
)

func TestErrorResponseStatusMapping(t *testing.T) {
	cases := []struct {
		marker error
		want   int
	}{
		{services.ErrValidation, http.StatusBadRequest},
		{services.ErrPresetNotFound, http.StatusBadRequest},
		{services.ErrIntegrity, http.StatusUnprocessableEntity},
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrInvalidState, http.StatusConflict},
		{services.ErrIncomplete, http.StatusConflict},
		{services.ErrIncompleteMergeSet, http.StatusConflict},
		{services.ErrQuotaExceeded, http.StatusTooManyRequests},
		{services.ErrRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable},
		{services.ErrInsufficientStorage, http.StatusInsufficientStorage},
		{services.ErrCompression, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "test", "op", "message", nil)
		status, body := errorResponse(err)
		if status != tc.want {
			t.Fatalf("%v: status %d, want %d", tc.marker, status, tc.want)
		}
		if body.Error == "" || body.Message == "" {
			t.Fatalf("%v: incomplete body %+v", tc.marker, body)
		}
	}
}

func TestErrorResponseHidesInternalDetail(t *testing.T) {
	err := services.Wrap(services.ErrTransient, "merge", "write", "persist", fmt.Errorf("open /srv/data/work/x: permission denied"))
	status, body := errorResponse(err)
	if status != http.StatusInternalServerError || body.Message != "Internal Server Error" {
		t.Fatalf("unexpected response %d %+v", status, body)
	}
}

func TestErrorResponseScrubsPathsAndCarriesSlot(t *testing.T) {
	err := services.WithSlot(services.Wrap(services.ErrUnprocessableMedia, "assemble", "probe", "bad file", fmt.Errorf("read \"/var/lib/clipstitch/clips/a/source.mp4\": eof")), 2)
	status, body := errorResponse(err)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", status)
	}
	if strings.Contains(body.Message, "/var/lib") || !strings.Contains(body.Message, "<path>") {
		t.Fatalf("path not scrubbed: %q", body.Message)
	}
	if body.Slot == nil || *body.Slot != 2 {
		t.Fatalf("expected slot 2, got %v", body.Slot)
	}
}

func TestScrubPathsKeepsRanges(t *testing.T) {
	msg := "range bytes=0-99/1000 invalid"
	if got := scrubPaths(msg); got != msg {
		t.Fatalf("range text altered: %q", got)
	}
}

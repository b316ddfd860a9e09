package workflow

import (
	"testing"

	"clipstitch/internal/store"
)

func TestTrackActiveKeepsSnapshot(t *testing.T) {
	r := &Runner{active: make(map[string]*store.MergeJob)}
	job := &store.MergeJob{ID: "job-1", ChallengeID: "c1", Status: store.JobRunning}

	r.trackActive(job, true)
	job.ChallengeID = "changed"
	if !r.isActiveJob("job-1") {
		t.Fatal("expected job to be tracked as active")
	}
	if got := r.active["job-1"]; got == job || got.ChallengeID != "c1" {
		t.Fatalf("expected an independent snapshot, got %+v", got)
	}

	r.trackActive(job, false)
	if r.isActiveJob("job-1") || r.isActiveJob("") {
		t.Fatal("expected job to be untracked")
	}
}

package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"clipstitch/internal/store"
	"clipstitch/internal/upload"
	"clipstitch/internal/workflow"
)

func TestFromClipOmitsFilePath(t *testing.T) {
	clip := &store.Clip{
		ID:             "clip-1",
		ChallengeID:    "ch-1",
		StatementIndex: 2,
		FilePath:       "/srv/clipstitch/clips/clip-1/source.mp4",
		DurationMS:     4000,
		Codec:          store.CodecParams{Container: "mp4", VideoCodec: "h264", Width: 1080, Height: 1920, FrameRate: 30},
	}
	payload, err := json.Marshal(FromClip(clip))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "/srv/") {
		t.Fatalf("payload leaks path: %s", payload)
	}
	if !strings.Contains(string(payload), `"statementIndex":2`) {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestFromJobCopiesSlotAndHeartbeat(t *testing.T) {
	slot := 1
	beat := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	job := &store.MergeJob{
		ID:            "job-1",
		Status:        store.JobFailed,
		Stage:         store.StageNormalize,
		ErrorKind:     "normalize_failed",
		FailedSlot:    &slot,
		LastHeartbeat: &beat,
	}
	dto := FromJob(job)
	if dto.FailedSlot == nil || *dto.FailedSlot != 1 {
		t.Fatalf("expected failed slot 1, got %v", dto.FailedSlot)
	}
	slot = 2
	if *dto.FailedSlot != 1 {
		t.Fatalf("slot must be copied, got %d", *dto.FailedSlot)
	}
	if dto.LastHeartbeat != "2026-03-01T11:00:00.000Z" {
		t.Fatalf("unexpected heartbeat %q", dto.LastHeartbeat)
	}
	if dto.Status != "failed" || dto.Stage != "normalize" {
		t.Fatalf("unexpected enums %+v", dto)
	}
}

func TestFromUploadStatusNeverNilMissing(t *testing.T) {
	dto := FromUploadStatus(&upload.Status{
		Session:  &store.UploadSession{ID: "s1", Status: store.SessionCompleted},
		Progress: upload.Progress{ReceivedCount: 4, ChunkCount: 4, Percent: 100},
	})
	if dto.Missing == nil {
		t.Fatal("expected empty missing list")
	}
	payload, _ := json.Marshal(dto)
	if !strings.Contains(string(payload), `"missing":[]`) {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:   true,
		Workers:   2,
		Active:    []store.MergeJob{{ID: "job-1", Status: store.JobRunning}},
		JobCounts: map[store.JobStatus]int{store.JobPending: 3},
		Health:    []workflow.ComponentHealth{{Name: "ffmpeg", Ready: false, Detail: "binary missing"}},
	}
	h := FromStatusSummary(summary)
	if !h.Running || h.Workers != 2 {
		t.Fatalf("unexpected health %+v", h)
	}
	if len(h.ActiveJobs) != 1 || h.ActiveJobs[0].Status != "running" {
		t.Fatalf("unexpected active jobs %+v", h.ActiveJobs)
	}
	if h.JobCounts["pending"] != 3 {
		t.Fatalf("unexpected counts %+v", h.JobCounts)
	}
	if len(h.Components) != 1 || h.Components[0].Ready {
		t.Fatalf("unexpected components %+v", h.Components)
	}
}

package api

import (
	"time"

	"clipstitch/internal/store"
	"clipstitch/internal/upload"
	"clipstitch/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromSession converts a session record to its API representation.
func FromSession(sess *store.UploadSession) UploadSession {
	if sess == nil {
		return UploadSession{}
	}
	return UploadSession{
		ID:             sess.ID,
		ChallengeID:    sess.ChallengeID,
		StatementIndex: sess.StatementIndex,
		TotalSize:      sess.TotalSize,
		ChunkSize:      sess.ChunkSize,
		ChunkCount:     sess.ChunkCount,
		MimeType:       sess.MimeType,
		HashAlgorithm:  sess.HashAlgorithm,
		Status:         string(sess.Status),
		ErrorMessage:   sess.ErrorMessage,
		ClipID:         sess.ClipID,
		CreatedAt:      formatTime(sess.CreatedAt),
		ExpiresAt:      formatTime(sess.ExpiresAt),
	}
}

// FromProgress converts chunk progress.
func FromProgress(p upload.Progress) UploadProgress {
	return UploadProgress{ReceivedCount: p.ReceivedCount, ChunkCount: p.ChunkCount, Percent: p.Percent}
}

// FromUploadStatus converts the resumable session view.
func FromUploadStatus(status *upload.Status) UploadStatus {
	if status == nil {
		return UploadStatus{Missing: []int{}}
	}
	missing := status.Missing
	if missing == nil {
		missing = []int{}
	}
	return UploadStatus{
		Session:  FromSession(status.Session),
		Progress: FromProgress(status.Progress),
		Missing:  missing,
	}
}

// FromClip converts a clip record. The file path is omitted.
func FromClip(clip *store.Clip) Clip {
	if clip == nil {
		return Clip{}
	}
	return Clip{
		ID:             clip.ID,
		ChallengeID:    clip.ChallengeID,
		StatementIndex: clip.StatementIndex,
		SessionID:      clip.SessionID,
		ByteSize:       clip.ByteSize,
		DurationMS:     clip.DurationMS,
		Codec: Codec{
			Container:  clip.Codec.Container,
			VideoCodec: clip.Codec.VideoCodec,
			AudioCodec: clip.Codec.AudioCodec,
			Width:      clip.Codec.Width,
			Height:     clip.Codec.Height,
			FrameRate:  clip.Codec.FrameRate,
		},
		CreatedAt: formatTime(clip.CreatedAt),
	}
}

// FromAsset converts a merged asset record. The file path is omitted.
func FromAsset(asset *store.MergedAsset) MergedAsset {
	if asset == nil {
		return MergedAsset{}
	}
	return MergedAsset{
		ID:                asset.ID,
		ChallengeID:       asset.ChallengeID,
		JobID:             asset.JobID,
		TotalDurationMS:   asset.TotalDurationMS,
		ByteSize:          asset.ByteSize,
		Preset:            asset.Preset,
		Strategy:          asset.Strategy,
		Status:            string(asset.Status),
		ModerationReasons: asset.ModerationReasons,
		CreatedAt:         formatTime(asset.CreatedAt),
	}
}

// FromSegments converts segments, preserving order.
func FromSegments(segs []store.Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		out = append(out, Segment{
			StatementIndex: s.StatementIndex,
			StartMS:        s.StartMS,
			EndMS:          s.EndMS,
			DurationMS:     s.DurationMS,
		})
	}
	return out
}

// FromJob converts a merge job record.
func FromJob(job *store.MergeJob) MergeJob {
	if job == nil {
		return MergeJob{}
	}
	dto := MergeJob{
		ID:           job.ID,
		ChallengeID:  job.ChallengeID,
		Preset:       job.Preset,
		Stage:        string(job.Stage),
		Percent:      job.Percent,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		AssetID:      job.AssetID,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
	if job.FailedSlot != nil {
		slot := *job.FailedSlot
		dto.FailedSlot = &slot
	}
	if job.LastHeartbeat != nil {
		dto.LastHeartbeat = formatTime(*job.LastHeartbeat)
	}
	return dto
}

// FromJobs converts a job list.
func FromJobs(jobs []*store.MergeJob) []MergeJob {
	out := make([]MergeJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts the runner summary.
func FromStatusSummary(summary workflow.StatusSummary) Health {
	h := Health{
		Running:    summary.Running,
		Workers:    summary.Workers,
		LastError:  summary.LastError,
		ActiveJobs: make([]MergeJob, 0, len(summary.Active)),
		JobCounts:  make(map[string]int, len(summary.JobCounts)),
		Components: make([]ComponentHealth, 0, len(summary.Health)),
	}
	for i := range summary.Active {
		h.ActiveJobs = append(h.ActiveJobs, FromJob(&summary.Active[i]))
	}
	for status, count := range summary.JobCounts {
		h.JobCounts[string(status)] = count
	}
	for _, c := range summary.Health {
		h.Components = append(h.Components, ComponentHealth{Name: c.Name, Ready: c.Ready, Detail: c.Detail})
	}
	return h
}

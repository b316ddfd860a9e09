package store

import "time"

// SessionStatus represents the lifecycle of an upload session.
type SessionStatus string

const (
	SessionInitiated  SessionStatus = "initiated"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionExpired    SessionStatus = "expired"
)

// Accepting reports whether the session still takes chunks.
func (s SessionStatus) Accepting() bool {
	return s == SessionInitiated || s == SessionInProgress
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return !s.Accepting()
}

// UploadSession is the persisted state of one chunked upload.
type UploadSession struct {
	ID             string
	Owner          string
	ChallengeID    string
	StatementIndex int
	TotalSize      int64
	ChunkSize      int64
	ChunkCount     int
	MimeType       string
	HashAlgorithm  string
	ExpectedHash   string
	Status         SessionStatus
	ErrorMessage   string
	ClipID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// ExpiredAt reports whether the session's TTL has passed at now.
func (s *UploadSession) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ExpectedChunkSize returns the byte length chunk n must have.
func (s *UploadSession) ExpectedChunkSize(n int) int64 {
	if n == s.ChunkCount-1 {
		if rem := s.TotalSize - int64(s.ChunkCount-1)*s.ChunkSize; rem > 0 {
			return rem
		}
	}
	return s.ChunkSize
}

// Chunk records one received chunk.
type Chunk struct {
	Number     int
	Hash       string
	Size       int64
	ReceivedAt time.Time
}

// CodecParams captures the probed stream properties of a clip.
type CodecParams struct {
	Container  string  `json:"container"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frame_rate"`
	PixFmt     string  `json:"pix_fmt,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
}

// Clip is an assembled, probed statement recording.
type Clip struct {
	ID             string
	ChallengeID    string
	StatementIndex int
	SessionID      string
	Owner          string
	FilePath       string
	ByteSize       int64
	DurationMS     int64
	Codec          CodecParams
	CreatedAt      time.Time
}

// JobStatus represents the lifecycle of a merge job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobStage names the merge pipeline step a job last reported.
type JobStage string

const (
	StageQueued      JobStage = "queued"
	StageNormalize   JobStage = "normalize"
	StageConcatenate JobStage = "concatenate"
	StageCompress    JobStage = "compress"
	StageFinalize    JobStage = "finalize"
	StageModerate    JobStage = "moderate"
	StageDone        JobStage = "done"
)

// MergeJob is the pollable record of one merge run.
type MergeJob struct {
	ID            string
	ChallengeID   string
	Preset        string
	Stage         JobStage
	Percent       float64
	Status        JobStatus
	Attempts      int
	AssetID       string
	ErrorKind     string
	ErrorMessage  string
	FailedSlot    *int
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AssetStatus represents the visibility of a merged asset.
type AssetStatus string

const (
	AssetPendingReview AssetStatus = "pending_review"
	AssetVisible       AssetStatus = "visible"
	AssetQuarantined   AssetStatus = "quarantined"
)

// MergedAsset is an immutable merge result.
type MergedAsset struct {
	ID                string
	ChallengeID       string
	JobID             string
	FilePath          string
	TotalDurationMS   int64
	ByteSize          int64
	Preset            string
	Strategy          string
	Status            AssetStatus
	ModerationReasons []string
	CreatedAt         time.Time
}

// Segment is the time span of one statement within a merged asset.
type Segment struct {
	StatementIndex int   `json:"statement_index"`
	StartMS        int64 `json:"start_ms"`
	EndMS          int64 `json:"end_ms"`
	DurationMS     int64 `json:"duration_ms"`
}

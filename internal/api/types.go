package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// InitiateUploadRequest is the body of POST /api/uploads.
type InitiateUploadRequest struct {
	ChallengeID    string `json:"challengeId"`
	StatementIndex int    `json:"statementIndex"`
	TotalSize      int64  `json:"totalSize"`
	ChunkSize      int64  `json:"chunkSize"`
	MimeType       string `json:"mimeType"`
	FileHash       string `json:"fileHash,omitempty"`
}

// UploadSession describes an upload session.
type UploadSession struct {
	ID             string `json:"id"`
	ChallengeID    string `json:"challengeId"`
	StatementIndex int    `json:"statementIndex"`
	TotalSize      int64  `json:"totalSize"`
	ChunkSize      int64  `json:"chunkSize"`
	ChunkCount     int    `json:"chunkCount"`
	MimeType       string `json:"mimeType"`
	HashAlgorithm  string `json:"hashAlgorithm"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	ClipID         string `json:"clipId,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	ExpiresAt      string `json:"expiresAt,omitempty"`
}

// UploadProgress summarizes chunk reception.
type UploadProgress struct {
	ReceivedCount int     `json:"receivedCount"`
	ChunkCount    int     `json:"chunkCount"`
	Percent       float64 `json:"percent"`
}

// UploadStatus is the resumable view of a session.
type UploadStatus struct {
	Session  UploadSession  `json:"session"`
	Progress UploadProgress `json:"progress"`
	Missing  []int          `json:"missing"`
}

// Codec mirrors the probed stream properties of a clip.
type Codec struct {
	Container  string  `json:"container"`
	VideoCodec string  `json:"videoCodec"`
	AudioCodec string  `json:"audioCodec,omitempty"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FrameRate  float64 `json:"frameRate"`
}

// Clip describes an assembled statement recording.
type Clip struct {
	ID             string `json:"id"`
	ChallengeID    string `json:"challengeId"`
	StatementIndex int    `json:"statementIndex"`
	SessionID      string `json:"sessionId"`
	ByteSize       int64  `json:"byteSize"`
	DurationMS     int64  `json:"durationMs"`
	Codec          Codec  `json:"codec"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

// Segment is one statement's span within a merged asset.
type Segment struct {
	StatementIndex int   `json:"statementIndex"`
	StartMS        int64 `json:"startMs"`
	EndMS          int64 `json:"endMs"`
	DurationMS     int64 `json:"durationMs"`
}

// SegmentsResponse is the body of GET /api/assets/{id}/segments.
type SegmentsResponse struct {
	AssetID  string    `json:"assetId"`
	Segments []Segment `json:"segments"`
}

// MergedAsset describes a merge result.
type MergedAsset struct {
	ID                string   `json:"id"`
	ChallengeID       string   `json:"challengeId"`
	JobID             string   `json:"jobId,omitempty"`
	TotalDurationMS   int64    `json:"totalDurationMs"`
	ByteSize          int64    `json:"byteSize"`
	Preset            string   `json:"preset"`
	Strategy          string   `json:"strategy"`
	Status            string   `json:"status"`
	ModerationReasons []string `json:"moderationReasons,omitempty"`
	CreatedAt         string   `json:"createdAt,omitempty"`
}

// MergeRequest is the optional body of POST /api/challenges/{id}/merge.
type MergeRequest struct {
	Preset string `json:"preset,omitempty"`
}

// MergeJob is the pollable state of one merge run.
type MergeJob struct {
	ID            string  `json:"id"`
	ChallengeID   string  `json:"challengeId"`
	Preset        string  `json:"preset"`
	Stage         string  `json:"stage"`
	Percent       float64 `json:"percent"`
	Status        string  `json:"status"`
	Attempts      int     `json:"attempts"`
	AssetID       string  `json:"assetId,omitempty"`
	ErrorKind     string  `json:"errorKind,omitempty"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
	FailedSlot    *int    `json:"failedSlot,omitempty"`
	LastHeartbeat string  `json:"lastHeartbeat,omitempty"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
}

// MergeResponse is returned when a merge is requested.
type MergeResponse struct {
	Job     MergeJob `json:"job"`
	Created bool     `json:"created"`
}

// JobListResponse wraps a list of jobs.
type JobListResponse struct {
	Jobs []MergeJob `json:"jobs"`
}

// ComponentHealth mirrors readiness reporting for daemon dependencies.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Health summarizes daemon state.
type Health struct {
	Running    bool              `json:"running"`
	Workers    int               `json:"workers"`
	ActiveJobs []MergeJob        `json:"activeJobs"`
	JobCounts  map[string]int    `json:"jobCounts"`
	LastError  string            `json:"lastError,omitempty"`
	Components []ComponentHealth `json:"components"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Slot    *int   `json:"slot,omitempty"`
}

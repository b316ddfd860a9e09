package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipstitch/internal/assemble"
	"clipstitch/internal/chunkstore"
	"clipstitch/internal/config"
	"clipstitch/internal/integrity"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

const stageName = "upload"

// Assembler turns a concatenated upload into a clip.
type Assembler interface {
	Assemble(ctx context.Context, c assemble.Completion) (*store.Clip, error)
}

// CompletionHook observes successfully assembled clips. Errors are logged,
// never returned to the uploader.
type CompletionHook func(ctx context.Context, clip *store.Clip) error

// InitiateRequest carries the declared geometry of a new upload.
type InitiateRequest struct {
	ChallengeID    string
	StatementIndex int
	TotalSize      int64
	ChunkSize      int64
	MimeType       string
	FileHash       string
}

// Progress summarizes chunk reception.
type Progress struct {
	ReceivedCount int     `json:"received_count"`
	ChunkCount    int     `json:"declared_chunk_count"`
	Percent       float64 `json:"percent"`
}

// Status is the resumable view of a session.
type Status struct {
	Session *store.UploadSession
	Progress
	Missing []int
}

// Manager owns the upload session lifecycle.
type Manager struct {
	limits     config.Upload
	ttl        time.Duration
	retention  time.Duration
	dataDir    string
	store      *store.Store
	chunks     *chunkstore.Store
	assembler  Assembler
	quota      Quota
	freeSpace  FreeSpaceFunc
	onComplete CompletionHook
	locks      *keyedMutex
	now        func() time.Time
	logger     *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithQuota overrides the default store-backed quota.
func WithQuota(q Quota) Option {
	return func(m *Manager) {
		if q != nil {
			m.quota = q
		}
	}
}

// WithCompletionHook registers the hook called after a clip is assembled.
func WithCompletionHook(hook CompletionHook) Option {
	return func(m *Manager) { m.onComplete = hook }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithFreeSpace overrides the free-space probe.
func WithFreeSpace(fn FreeSpaceFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.freeSpace = fn
		}
	}
}

// NewManager constructs the upload service.
func NewManager(cfg *config.Config, st *store.Store, chunks *chunkstore.Store, asm Assembler, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		limits:    cfg.Upload,
		ttl:       cfg.SessionTTL(),
		retention: cfg.SessionRetention(),
		dataDir:   cfg.Paths.DataDir,
		store:     st,
		chunks:    chunks,
		assembler: asm,
		quota:     NewStoreQuota(st),
		freeSpace: StatfsFreeSpace,
		locks:     newKeyedMutex(),
		now:       time.Now,
		logger:    logging.NewComponentLogger(logger, "upload"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate validates the declared upload and opens a session.
func (m *Manager) Initiate(ctx context.Context, p services.Principal, req InitiateRequest) (*store.UploadSession, error) {
	if p.ID == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "initiate", "principal required", nil)
	}
	if err := m.validateInitiate(req); err != nil {
		return nil, err
	}
	alg := m.limits.HashAlgorithm
	fileHash := ""
	if strings.TrimSpace(req.FileHash) != "" {
		normalized, err := integrity.Normalize(alg, req.FileHash)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, stageName, "initiate", "file hash", err)
		}
		fileHash = normalized
	}

	if m.limits.MaxActiveSessions > 0 {
		count, err := m.quota.CurrentUploadCount(ctx, p.ID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, stageName, "initiate", "quota lookup", err)
		}
		if count >= m.limits.MaxActiveSessions {
			return nil, services.Wrap(services.ErrQuotaExceeded, stageName, "initiate",
				fmt.Sprintf("%d of %d concurrent uploads in use", count, m.limits.MaxActiveSessions), nil)
		}
	}
	if m.limits.MinFreeBytes > 0 {
		free, err := m.freeSpace(m.dataDir)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, stageName, "initiate", "free space probe", err)
		}
		if int64(free)-req.TotalSize < m.limits.MinFreeBytes { //nolint:gosec
			return nil, services.Wrap(services.ErrInsufficientStorage, stageName, "initiate", "not enough free space for upload", nil)
		}
	}

	now := m.now().UTC()
	sess := &store.UploadSession{
		ID:             uuid.NewString(),
		Owner:          p.ID,
		ChallengeID:    strings.TrimSpace(req.ChallengeID),
		StatementIndex: req.StatementIndex,
		TotalSize:      req.TotalSize,
		ChunkSize:      req.ChunkSize,
		ChunkCount:     int((req.TotalSize + req.ChunkSize - 1) / req.ChunkSize),
		MimeType:       strings.ToLower(strings.TrimSpace(req.MimeType)),
		HashAlgorithm:  alg,
		ExpectedHash:   fileHash,
		Status:         store.SessionInitiated,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
	}
	if err := m.chunks.Create(chunkstore.Manifest{
		SessionID:      sess.ID,
		Owner:          sess.Owner,
		ChallengeID:    sess.ChallengeID,
		StatementIndex: sess.StatementIndex,
		TotalSize:      sess.TotalSize,
		ChunkSize:      sess.ChunkSize,
		ChunkCount:     sess.ChunkCount,
		HashAlgorithm:  alg,
		CreatedAt:      now,
		ExpiresAt:      sess.ExpiresAt,
	}); err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "initiate", "create chunk storage", err)
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		_ = m.chunks.Remove(sess.ID)
		return nil, services.Wrap(services.ErrTransient, stageName, "initiate", "persist session", err)
	}

	m.logger.Info("upload session initiated",
		logging.String(logging.FieldEventType, "session_initiated"),
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldChallengeID, sess.ChallengeID),
		logging.Int(logging.FieldSlot, sess.StatementIndex),
		logging.String("owner", sess.Owner),
		logging.Bytes("total_size", sess.TotalSize),
		logging.Int("chunk_count", sess.ChunkCount),
	)
	return sess, nil
}

func (m *Manager) validateInitiate(req InitiateRequest) error {
	invalid := func(msg string) error {
		return services.Wrap(services.ErrValidation, stageName, "initiate", msg, nil)
	}
	switch {
	case strings.TrimSpace(req.ChallengeID) == "":
		return invalid("challenge_id is required")
	case req.StatementIndex < 0 || req.StatementIndex > 2:
		return invalid("statement_index must be 0, 1, or 2")
	case req.TotalSize <= 0:
		return invalid("total_size must be positive")
	case m.limits.MaxTotalBytes > 0 && req.TotalSize > m.limits.MaxTotalBytes:
		return invalid(fmt.Sprintf("total_size exceeds limit of %d bytes", m.limits.MaxTotalBytes))
	case req.ChunkSize <= 0:
		return invalid("chunk_size must be positive")
	case m.limits.MaxChunkBytes > 0 && req.ChunkSize > m.limits.MaxChunkBytes:
		return invalid(fmt.Sprintf("chunk_size exceeds limit of %d bytes", m.limits.MaxChunkBytes))
	}
	mimeType := strings.ToLower(strings.TrimSpace(req.MimeType))
	if !slices.Contains(m.limits.AllowedMimeTypes, mimeType) {
		return invalid(fmt.Sprintf("mime type %q is not allowed", req.MimeType))
	}
	return nil
}

// AcceptChunk stores one verified chunk. Re-sending a received chunk with the
// same hash is a no-op.
func (m *Manager) AcceptChunk(ctx context.Context, p services.Principal, sessionID string, n int, data []byte, declaredHash string) (Progress, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.accepting(ctx, p, sessionID, "accept chunk")
	if err != nil {
		return Progress{}, err
	}
	if n < 0 || n >= sess.ChunkCount {
		return Progress{}, services.Wrap(services.ErrValidation, stageName, "accept chunk",
			fmt.Sprintf("chunk %d outside [0, %d)", n, sess.ChunkCount), nil)
	}
	if want := sess.ExpectedChunkSize(n); int64(len(data)) != want {
		return Progress{}, services.Wrap(services.ErrValidation, stageName, "accept chunk",
			fmt.Sprintf("chunk %d has %d bytes, want %d", n, len(data), want), nil)
	}
	declared, err := integrity.Normalize(sess.HashAlgorithm, declaredHash)
	if err != nil {
		return Progress{}, services.Wrap(services.ErrValidation, stageName, "accept chunk", "chunk hash", err)
	}
	actual, err := integrity.Sum(sess.HashAlgorithm, data)
	if err != nil {
		return Progress{}, services.Wrap(services.ErrConfiguration, stageName, "accept chunk", "hash chunk", err)
	}
	if !integrity.Equal(actual, declared) {
		logging.WarnWithContext(m.logger, "chunk rejected", "chunk_integrity_failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("chunk", n),
			logging.String(logging.FieldErrorKind, "integrity"),
			logging.String(logging.FieldImpact, "client must resend this chunk"),
		)
		return Progress{}, services.Wrap(services.ErrIntegrity, stageName, "accept chunk",
			fmt.Sprintf("chunk %d hash mismatch", n), nil)
	}

	received, err := m.store.Chunks(ctx, sessionID)
	if err != nil {
		return Progress{}, services.Wrap(services.ErrTransient, stageName, "accept chunk", "load chunks", err)
	}
	for _, c := range received {
		if c.Number != n || !integrity.Equal(c.Hash, actual) {
			continue
		}
		// The row matches; rewrite the file only if it no longer does.
		digest, size, hashErr := m.chunks.HashChunk(sessionID, n, sess.HashAlgorithm)
		if hashErr == nil && size == c.Size && integrity.Equal(digest, actual) {
			return progressOf(len(received), sess.ChunkCount), nil
		}
		if hashErr != nil && !errors.Is(hashErr, chunkstore.ErrNotFound) {
			return Progress{}, services.Wrap(services.ErrTransient, stageName, "accept chunk", "verify stored chunk", hashErr)
		}
	}

	if err := m.chunks.WriteChunk(sessionID, n, data); err != nil {
		if errors.Is(err, chunkstore.ErrNotFound) {
			return Progress{}, services.Wrap(services.ErrNotFound, stageName, "accept chunk", "session storage released", nil)
		}
		return Progress{}, services.Wrap(services.ErrTransient, stageName, "accept chunk", "write chunk", err)
	}
	count, err := m.store.RecordChunk(ctx, sessionID, store.Chunk{Number: n, Hash: actual, Size: int64(len(data))})
	if err != nil {
		_ = m.chunks.RemoveChunk(sessionID, n)
		return Progress{}, m.translateStoreError(err, "accept chunk")
	}

	m.logger.Debug("chunk accepted",
		logging.String(logging.FieldEventType, "chunk_accepted"),
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("chunk", n),
		logging.Int("received", count),
		logging.Int("chunk_count", sess.ChunkCount),
	)
	return progressOf(count, sess.ChunkCount), nil
}

// Status reports progress and the chunk numbers still missing.
func (m *Manager) Status(ctx context.Context, p services.Principal, sessionID string) (*Status, error) {
	sess, err := m.owned(ctx, p, sessionID, "status")
	if err != nil {
		return nil, err
	}
	if sess.Status.Accepting() && sess.ExpiredAt(m.now()) {
		sess.Status = store.SessionExpired
	}
	received, err := m.store.Chunks(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "status", "load chunks", err)
	}
	have := make(map[int]struct{}, len(received))
	for _, c := range received {
		have[c.Number] = struct{}{}
	}
	missing := []int{}
	if sess.Status.Accepting() {
		for i := 0; i < sess.ChunkCount; i++ {
			if _, ok := have[i]; !ok {
				missing = append(missing, i)
			}
		}
	}
	progress := progressOf(len(received), sess.ChunkCount)
	if sess.Status == store.SessionCompleted {
		progress = progressOf(sess.ChunkCount, sess.ChunkCount)
	}
	return &Status{Session: sess, Progress: progress, Missing: missing}, nil
}

// Complete verifies and concatenates the chunks and hands the file to the
// assembler. It is the only transition to completed.
func (m *Manager) Complete(ctx context.Context, p services.Principal, sessionID string) (*store.Clip, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.accepting(ctx, p, sessionID, "complete")
	if err != nil {
		return nil, err
	}
	slot := sess.StatementIndex
	received, err := m.store.Chunks(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "complete", "load chunks", err)
	}
	if len(received) < sess.ChunkCount {
		return nil, services.WithSlot(services.Wrap(services.ErrIncomplete, stageName, "complete",
			fmt.Sprintf("%d of %d chunks received", len(received), sess.ChunkCount), nil), slot)
	}

	for _, c := range received {
		digest, size, err := m.chunks.HashChunk(sessionID, c.Number, sess.HashAlgorithm)
		if err == nil && size == c.Size && integrity.Equal(digest, c.Hash) {
			continue
		}
		if err != nil && !errors.Is(err, chunkstore.ErrNotFound) {
			return nil, services.Wrap(services.ErrTransient, stageName, "complete", "verify chunk", err)
		}
		logging.WarnWithContext(m.logger, "stored chunk failed verification", "chunk_verification_failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("chunk", c.Number),
			logging.String(logging.FieldErrorKind, "integrity"),
			logging.String(logging.FieldImpact, "client must resend this chunk"),
		)
		return nil, services.WithSlot(services.Wrap(services.ErrIntegrity, stageName, "complete",
			fmt.Sprintf("stored chunk %d failed verification", c.Number), nil), slot)
	}

	assembled := filepath.Join(m.chunks.Dir(sessionID), "assembled.bin")
	digest, _, err := m.chunks.Assemble(ctx, sessionID, sess.ChunkCount, assembled, sess.HashAlgorithm)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "complete", "concatenate chunks", err)
	}
	if sess.ExpectedHash != "" && !integrity.Equal(digest, sess.ExpectedHash) {
		_ = os.Remove(assembled)
		return nil, services.WithSlot(services.Wrap(services.ErrIntegrity, stageName, "complete",
			"assembled file hash does not match declared file hash", nil), slot)
	}

	clip, err := m.assembler.Assemble(ctx, assemble.Completion{Session: sess, SourcePath: assembled})
	if err != nil {
		if _, tErr := m.store.TransitionSession(ctx, sessionID, store.SessionFailed, services.ErrorKind(err),
			store.SessionInitiated, store.SessionInProgress); tErr != nil {
			m.logger.Warn("mark session failed", logging.Error(tErr), logging.String(logging.FieldSessionID, sessionID))
		}
		m.release(sessionID)
		logging.ErrorWithContext(m.logger, "assembly failed", "session_failed",
			append(logging.ErrorAttrs(err),
				logging.String(logging.FieldSessionID, sessionID),
				logging.String(logging.FieldImpact, "statement must be re-recorded"),
			)...,
		)
		return nil, services.WithSlot(err, slot)
	}

	m.release(sessionID)

	m.logger.Info("upload completed",
		logging.String(logging.FieldEventType, "session_completed"),
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldChallengeID, sess.ChallengeID),
		logging.Int(logging.FieldSlot, slot),
		logging.String("clip_id", clip.ID),
	)
	if m.onComplete != nil {
		if err := m.onComplete(ctx, clip); err != nil {
			logging.WarnWithContext(m.logger, "completion hook failed", "completion_hook_failed",
				append(logging.ErrorAttrs(err),
					logging.String(logging.FieldChallengeID, clip.ChallengeID),
					logging.String(logging.FieldImpact, "merge must be requested manually"),
				)...,
			)
		}
	}
	return clip, nil
}

// Cancel aborts an open session. Cancelling a cancelled session succeeds.
func (m *Manager) Cancel(ctx context.Context, p services.Principal, sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	sess, err := m.owned(ctx, p, sessionID, "cancel")
	if err != nil {
		return err
	}
	switch {
	case sess.Status == store.SessionCancelled:
		return nil
	case !sess.Status.Accepting():
		return services.Wrap(services.ErrInvalidState, stageName, "cancel", fmt.Sprintf("session is %s", sess.Status), nil)
	}
	ok, err := m.store.TransitionSession(ctx, sessionID, store.SessionCancelled, "", store.SessionInitiated, store.SessionInProgress)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "cancel", "mark cancelled", err)
	}
	if !ok {
		return services.Wrap(services.ErrInvalidState, stageName, "cancel", "session changed state", nil)
	}
	m.release(sessionID)
	m.logger.Info("upload cancelled",
		logging.String(logging.FieldEventType, "session_cancelled"),
		logging.String(logging.FieldSessionID, sessionID),
	)
	return nil
}

func (m *Manager) owned(ctx context.Context, p services.Principal, sessionID, op string) (*store.UploadSession, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, stageName, op, "unknown session", nil)
		}
		return nil, services.Wrap(services.ErrTransient, stageName, op, "load session", err)
	}
	if !p.Owns(sess.Owner) {
		return nil, services.Wrap(services.ErrNotFound, stageName, op, "unknown session", nil)
	}
	return sess, nil
}

// accepting loads an owned session that can still take chunks.
func (m *Manager) accepting(ctx context.Context, p services.Principal, sessionID, op string) (*store.UploadSession, error) {
	sess, err := m.owned(ctx, p, sessionID, op)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.SessionExpired || (sess.Status.Accepting() && sess.ExpiredAt(m.now())) {
		return nil, services.Wrap(services.ErrNotFound, stageName, op, "session expired", nil)
	}
	if !sess.Status.Accepting() {
		return nil, services.Wrap(services.ErrInvalidState, stageName, op, fmt.Sprintf("session is %s", sess.Status), nil)
	}
	return sess, nil
}

func (m *Manager) translateStoreError(err error, op string) error {
	var stateErr *store.StateError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return services.Wrap(services.ErrNotFound, stageName, op, "unknown session", nil)
	case errors.As(err, &stateErr):
		return services.Wrap(services.ErrInvalidState, stageName, op, fmt.Sprintf("session is %s", stateErr.Status), nil)
	default:
		return services.Wrap(services.ErrTransient, stageName, op, "persist", err)
	}
}

func (m *Manager) release(sessionID string) {
	held, usageErr := m.chunks.Usage(sessionID)
	if err := m.chunks.Remove(sessionID); err != nil {
		m.logger.Warn("release chunk storage",
			logging.Error(err),
			logging.String(logging.FieldSessionID, sessionID),
		)
		return
	}
	if usageErr == nil {
		m.logger.Debug("chunk storage released",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Bytes("freed", held),
		)
	}
}

func progressOf(received, total int) Progress {
	percent := 0.0
	if total > 0 {
		percent = math.Round(float64(received)/float64(total)*10000) / 100
	}
	return Progress{ReceivedCount: received, ChunkCount: total, Percent: percent}
}

// Package assemble turns a completed upload into a probed clip ready for
// merging.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"clipstitch/internal/fileutil"
	"clipstitch/internal/logging"
	"clipstitch/internal/media/ffprobe"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

const stageName = "assemble"

// Completion is handed over by the upload manager once every chunk has been
// verified and concatenated into SourcePath.
type Completion struct {
	Session    *store.UploadSession
	SourcePath string
}

// ClipWriter records an assembled clip and completes its session atomically.
type ClipWriter interface {
	CompleteSession(ctx context.Context, clip *store.Clip) error
}

// Assembler owns the transition from concatenated chunk bytes to a clip.
type Assembler struct {
	clips    ClipWriter
	prober   ffprobe.Prober
	clipsDir string
	logger   *slog.Logger
}

// New constructs an Assembler writing clip files below clipsDir.
func New(clips ClipWriter, prober ffprobe.Prober, clipsDir string, logger *slog.Logger) *Assembler {
	return &Assembler{
		clips:    clips,
		prober:   prober,
		clipsDir: clipsDir,
		logger:   logging.NewComponentLogger(logger, "assembler"),
	}
}

// Assemble validates the concatenated file, probes it, moves it into the clip
// namespace, and records the clip while completing its session. Failures are
// terminal for the upload; the source file is removed either way.
func (a *Assembler) Assemble(ctx context.Context, c Completion) (*store.Clip, error) {
	if c.Session == nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "assemble", "missing session", nil)
	}
	sess := c.Session
	slot := sess.StatementIndex
	defer os.Remove(c.SourcePath)

	info, err := os.Stat(c.SourcePath)
	if err != nil {
		return nil, services.WithSlot(services.Wrap(services.ErrTransient, stageName, "stat", "assembled file unavailable", err), slot)
	}
	if info.Size() != sess.TotalSize {
		return nil, services.WithSlot(services.Wrap(services.ErrSizeMismatch, stageName, "verify size",
			fmt.Sprintf("assembled %d bytes, declared %d", info.Size(), sess.TotalSize), nil), slot)
	}

	probe, err := a.prober.Inspect(ctx, c.SourcePath)
	if err != nil {
		return nil, services.WithSlot(services.Wrap(services.ErrUnprocessableMedia, stageName, "probe", "container could not be parsed", err), slot)
	}
	codec, durationMS, err := describe(probe)
	if err != nil {
		return nil, services.WithSlot(services.Wrap(services.ErrUnprocessableMedia, stageName, "probe", err.Error(), nil), slot)
	}

	clipID := uuid.NewString()
	dir := filepath.Join(a.clipsDir, clipID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.WithSlot(services.Wrap(services.ErrTransient, stageName, "mkdir", "create clip directory", err), slot)
	}
	dest := filepath.Join(dir, "source"+extensionFor(sess.MimeType))
	if err := fileutil.MoveFile(c.SourcePath, dest); err != nil {
		_ = os.RemoveAll(dir)
		return nil, services.WithSlot(services.Wrap(services.ErrTransient, stageName, "move", "store clip file", err), slot)
	}

	clip := &store.Clip{
		ID:             clipID,
		ChallengeID:    sess.ChallengeID,
		StatementIndex: slot,
		SessionID:      sess.ID,
		Owner:          sess.Owner,
		FilePath:       dest,
		ByteSize:       info.Size(),
		DurationMS:     durationMS,
		Codec:          codec,
	}
	if err := a.clips.CompleteSession(ctx, clip); err != nil {
		_ = os.RemoveAll(dir)
		var stateErr *store.StateError
		switch {
		case errors.As(err, &stateErr):
			return nil, services.WithSlot(services.Wrap(services.ErrInvalidState, stageName, "persist",
				fmt.Sprintf("session became %s during completion", stateErr.Status), nil), slot)
		case errors.Is(err, store.ErrNotFound):
			return nil, services.WithSlot(services.Wrap(services.ErrNotFound, stageName, "persist", "unknown session", nil), slot)
		default:
			return nil, services.WithSlot(services.Wrap(services.ErrTransient, stageName, "persist", "record clip", err), slot)
		}
	}

	a.logger.Info("clip assembled",
		logging.String(logging.FieldEventType, "clip_assembled"),
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String(logging.FieldChallengeID, sess.ChallengeID),
		logging.Int(logging.FieldSlot, slot),
		logging.String("clip_id", clipID),
		logging.Int64("duration_ms", durationMS),
		logging.String("video_codec", codec.VideoCodec),
		logging.Int("width", codec.Width),
		logging.Int("height", codec.Height),
	)
	return clip, nil
}

// describe extracts the codec parameters the merge step compares.
func describe(probe ffprobe.Result) (store.CodecParams, int64, error) {
	video, ok := probe.VideoStream()
	if !ok {
		return store.CodecParams{}, 0, errors.New("no video stream")
	}
	durationMS := probe.DurationMS()
	if durationMS <= 0 {
		return store.CodecParams{}, 0, errors.New("non-positive duration")
	}
	params := store.CodecParams{
		Container:  probe.Format.FormatName,
		VideoCodec: video.CodecName,
		Width:      video.Width,
		Height:     video.Height,
		FrameRate:  video.FrameRate(),
		PixFmt:     video.PixFmt,
	}
	if audio, ok := probe.AudioStream(); ok {
		params.AudioCodec = audio.CodecName
		params.SampleRate = audio.SampleRateHz()
		params.Channels = audio.Channels
	}
	return params, durationMS, nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

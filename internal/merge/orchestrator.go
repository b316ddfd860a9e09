package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipstitch/internal/config"
	"clipstitch/internal/fileutil"
	"clipstitch/internal/logging"
	"clipstitch/internal/media/ffmpeg"
	"clipstitch/internal/media/ffprobe"
	"clipstitch/internal/segments"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

const stageName = "merge"

// Transcoder performs the ffmpeg steps of a merge.
type Transcoder interface {
	Normalize(ctx context.Context, req ffmpeg.NormalizeRequest, target ffmpeg.Target, progress func(float64)) error
	Concat(ctx context.Context, inputs []ffmpeg.ConcatInput, output string, progress func(float64)) error
	Compress(ctx context.Context, input, output string, preset ffmpeg.Preset, durationMS int64, progress func(float64)) error
}

// AssetWriter records finished assets.
type AssetWriter interface {
	InsertAsset(ctx context.Context, asset *store.MergedAsset, segs []store.Segment) error
}

// ProgressFunc receives the current stage and overall percent.
type ProgressFunc func(stage store.JobStage, percent float64)

// Result is a finished merge.
type Result struct {
	Asset    *store.MergedAsset
	Segments []store.Segment
}

// Orchestrator runs merges. It holds no per-merge state and is safe for
// concurrent use across challenges.
type Orchestrator struct {
	transcoder  Transcoder
	prober      ffprobe.Prober
	compressors []Compressor
	assets      AssetWriter
	assetsDir   string
	workDir     string
	target      ffmpeg.Target
	timeout     time.Duration
	retries     int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep overrides the retry backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// NewOrchestrator constructs the merge service.
func NewOrchestrator(cfg *config.Config, t Transcoder, prober ffprobe.Prober, compressors []Compressor, assets AssetWriter, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcoder:  t,
		prober:      prober,
		compressors: compressors,
		assets:      assets,
		assetsDir:   cfg.AssetsDir(),
		workDir:     cfg.WorkDir(),
		target:      ffmpeg.Target{Width: cfg.Merge.TargetWidth, Height: cfg.Merge.TargetHeight, FPS: cfg.Merge.TargetFPS},
		timeout:     cfg.MergeTimeout(),
		retries:     cfg.Merge.CompressionRetries,
		backoff:     time.Duration(cfg.Merge.CompressionRetryBackoff) * time.Second,
		sleep:       sleepContext,
		logger:      logging.NewComponentLogger(logger, "merge"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MergeSet merges exactly one clip per statement index into a new asset.
// Any failure leaves no asset behind; callers may retry from scratch.
func (o *Orchestrator) MergeSet(ctx context.Context, challengeID string, clips []*store.Clip, presetName string, progress ProgressFunc) (*Result, error) {
	ordered, err := validateSet(challengeID, clips)
	if err != nil {
		return nil, err
	}
	preset, ok := ffmpeg.LookupPreset(presetName)
	if !ok {
		return nil, services.Wrap(services.ErrPresetNotFound, stageName, "preset",
			fmt.Sprintf("unknown preset %q (known: %s)", presetName, strings.Join(ffmpeg.PresetNames(), ", ")), nil)
	}
	if progress == nil {
		progress = func(store.JobStage, float64) {}
	}

	runCtx := ctx
	cancel := func() {}
	if o.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
	}
	defer cancel()

	assetID := uuid.NewString()
	logger := logging.WithContext(ctx, o.logger).With(
		logging.String(logging.FieldChallengeID, challengeID),
		logging.String(logging.FieldAssetID, assetID),
	)
	run := &mergeRun{
		o:        o,
		ctx:      runCtx,
		assetID:  assetID,
		clips:    ordered,
		preset:   preset,
		work:     filepath.Join(o.workDir, assetID),
		progress: progress,
		logger:   logger,
	}
	started := time.Now()
	result, err := run.execute()
	_ = os.RemoveAll(run.work)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = services.Wrap(services.ErrMergeTimeout, stageName, string(run.stage),
				fmt.Sprintf("exceeded %s budget", o.timeout), err)
		}
		logging.WarnWithContext(logger, "merge failed", "merge_failed",
			append(logging.ErrorAttrs(err),
				logging.String(logging.FieldStage, string(run.stage)),
				logging.String(logging.FieldImpact, "no asset produced; merge can be retried"),
			)...,
		)
		return nil, err
	}
	logger.Info("merge completed",
		logging.String(logging.FieldEventType, "merge_completed"),
		logging.String("strategy", result.Asset.Strategy),
		logging.String("preset", result.Asset.Preset),
		logging.Int64("total_duration_ms", result.Asset.TotalDurationMS),
		logging.Bytes("byte_size", result.Asset.ByteSize),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func validateSet(challengeID string, clips []*store.Clip) ([]*store.Clip, error) {
	incomplete := func(msg string) error {
		return services.Wrap(services.ErrIncompleteMergeSet, stageName, "validate", msg, nil)
	}
	if strings.TrimSpace(challengeID) == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "validate", "challenge_id is required", nil)
	}
	if len(clips) != segments.Count {
		return nil, incomplete(fmt.Sprintf("need %d clips, got %d", segments.Count, len(clips)))
	}
	ordered := make([]*store.Clip, segments.Count)
	for _, clip := range clips {
		if clip == nil {
			return nil, incomplete("nil clip")
		}
		idx := clip.StatementIndex
		if idx < 0 || idx >= segments.Count {
			return nil, incomplete(fmt.Sprintf("statement index %d out of range", idx))
		}
		if ordered[idx] != nil {
			return nil, services.WithSlot(incomplete(fmt.Sprintf("statement %d supplied twice", idx)), idx)
		}
		if clip.ChallengeID != challengeID {
			return nil, services.WithSlot(incomplete("clip belongs to another challenge"), idx)
		}
		ordered[idx] = clip
	}
	return ordered, nil
}

// mergeRun carries the state of one MergeSet call.
type mergeRun struct {
	o        *Orchestrator
	ctx      context.Context
	assetID  string
	clips    []*store.Clip
	preset   ffmpeg.Preset
	work     string
	stage    store.JobStage
	progress ProgressFunc
	logger   *slog.Logger
}

func (r *mergeRun) enter(stage store.JobStage) {
	r.stage = stage
	r.progress(stage, overallPercent(stage, 0))
	r.logger.Info("merge stage started",
		logging.String(logging.FieldEventType, "merge_stage"),
		logging.String(logging.FieldStage, string(stage)),
	)
}

func (r *mergeRun) report(stage store.JobStage) func(float64) {
	return func(local float64) { r.progress(stage, overallPercent(stage, local)) }
}

func (r *mergeRun) execute() (*Result, error) {
	if err := os.MkdirAll(r.work, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "prepare", "create work directory", err)
	}
	normalized, err := r.normalize()
	if err != nil {
		return nil, err
	}
	concatPath, provisional, err := r.concatenate(normalized)
	if err != nil {
		return nil, err
	}
	compressed, err := r.compress(concatPath, provisional[len(provisional)-1].EndMS)
	if err != nil {
		return nil, err
	}
	return r.finalize(compressed, provisional)
}

type normalizedClip struct {
	path       string
	durationMS int64
}

func (r *mergeRun) normalize() ([]normalizedClip, error) {
	r.enter(store.StageNormalize)
	out := make([]normalizedClip, len(r.clips))
	for i, clip := range r.clips {
		if err := r.ctx.Err(); err != nil {
			return nil, services.WithSlot(services.Wrap(services.ErrNormalize, stageName, "normalize", "cancelled", err), i)
		}
		sub := func(local float64) {
			r.progress(store.StageNormalize, overallPercent(store.StageNormalize, (float64(i)*100+local)/float64(len(r.clips))))
		}
		var dest string
		if matchesTarget(clip.Codec, r.o.target) {
			dest = filepath.Join(r.work, fmt.Sprintf("normalized-%d%s", i, filepath.Ext(clip.FilePath)))
			if err := fileutil.CopyFileVerified(clip.FilePath, dest); err != nil {
				return nil, services.WithSlot(services.Wrap(services.ErrNormalize, stageName, "normalize", "pass-through copy", err), i)
			}
			r.logger.Debug("clip matches target profile; passing through", logging.Int(logging.FieldSlot, i))
		} else {
			dest = filepath.Join(r.work, fmt.Sprintf("normalized-%d.mp4", i))
			req := ffmpeg.NormalizeRequest{
				Input:      clip.FilePath,
				Output:     dest,
				HasAudio:   clip.Codec.AudioCodec != "",
				DurationMS: clip.DurationMS,
			}
			if err := r.o.transcoder.Normalize(r.ctx, req, r.o.target, sub); err != nil {
				return nil, services.WithSlot(services.Wrap(services.ErrNormalize, stageName, "normalize", "re-encode", err), i)
			}
		}
		probe, err := r.o.prober.Inspect(r.ctx, dest)
		if err != nil {
			return nil, services.WithSlot(services.Wrap(services.ErrNormalize, stageName, "normalize", "probe normalized clip", err), i)
		}
		duration := probe.DurationMS()
		if duration <= 0 {
			return nil, services.WithSlot(services.Wrap(services.ErrNormalize, stageName, "normalize", "normalized clip has no duration", nil), i)
		}
		out[i] = normalizedClip{path: dest, durationMS: duration}
		sub(100)
	}
	return out, nil
}

// concatenate joins the clips and returns boundaries observed in the
// concatenated container.
func (r *mergeRun) concatenate(clips []normalizedClip) (string, []store.Segment, error) {
	r.enter(store.StageConcatenate)
	inputs := make([]ffmpeg.ConcatInput, len(clips))
	durations := make([]int64, len(clips))
	for i, c := range clips {
		inputs[i] = ffmpeg.ConcatInput{Path: c.path, Title: fmt.Sprintf("statement-%d", i), DurationMS: c.durationMS}
		durations[i] = c.durationMS
	}
	out := filepath.Join(r.work, "concat.mp4")
	if err := r.o.transcoder.Concat(r.ctx, inputs, out, r.report(store.StageConcatenate)); err != nil {
		return "", nil, services.Wrap(services.ErrConcatenation, stageName, "concat", "join clips", err)
	}
	probe, err := r.o.prober.Inspect(r.ctx, out)
	if err != nil {
		return "", nil, services.Wrap(services.ErrConcatenation, stageName, "concat", "probe concatenated file", err)
	}
	total := probe.DurationMS()
	if total <= 0 {
		return "", nil, services.Wrap(services.ErrConcatenation, stageName, "concat", "concatenated file has no duration", nil)
	}
	provisional, ok := segments.FromChapters(probe.Chapters, segments.Count, total)
	if !ok {
		r.logger.Debug("concat output has no usable chapters; using clip durations")
		provisional, err = segments.Scale(segments.FromDurations(durations), total)
		if err != nil {
			return "", nil, services.Wrap(services.ErrConcatenation, stageName, "concat", "derive boundaries", err)
		}
	}
	return out, provisional, nil
}

func (r *mergeRun) compress(input string, durationMS int64) (CompressionResult, error) {
	r.enter(store.StageCompress)
	var lastErr error
	for attempt := 0; attempt <= r.o.retries; attempt++ {
		if attempt > 0 {
			wait := r.o.backoff * time.Duration(attempt)
			r.logger.Info("retrying compression",
				logging.String(logging.FieldEventType, "compression_retry"),
				logging.Int("attempt", attempt+1),
				logging.Duration("backoff", wait),
			)
			if err := r.o.sleep(r.ctx, wait); err != nil {
				return CompressionResult{}, services.Wrap(services.ErrCompression, stageName, "compress", "cancelled during backoff", err)
			}
		}
		result, err := r.tryStrategies(input, durationMS)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if r.ctx.Err() != nil {
			break
		}
	}
	return CompressionResult{}, services.Wrap(services.ErrCompression, stageName, "compress",
		fmt.Sprintf("all strategies failed after %d attempt(s)", r.o.retries+1), lastErr)
}

func (r *mergeRun) tryStrategies(input string, durationMS int64) (CompressionResult, error) {
	var errs []error
	tried := 0
	for _, c := range r.o.compressors {
		if err := c.Available(); err != nil {
			r.logger.Debug("compression strategy unavailable",
				logging.String("strategy", c.Name()),
				logging.Error(err),
			)
			continue
		}
		tried++
		dir := filepath.Join(r.work, "compress-"+c.Name())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CompressionResult{}, err
		}
		out, err := c.Compress(r.ctx, CompressRequest{
			Input:      input,
			WorkDir:    dir,
			Preset:     r.preset,
			DurationMS: durationMS,
			Progress:   r.report(store.StageCompress),
		})
		if err == nil {
			return CompressionResult{Strategy: c.Name(), Output: out}, nil
		}
		logging.WarnWithContext(r.logger, "compression strategy failed", "compression_strategy_failed",
			logging.String("strategy", c.Name()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "falling back to next strategy"),
		)
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		if r.ctx.Err() != nil {
			break
		}
	}
	if tried == 0 {
		return CompressionResult{}, errors.New("no compression strategy available")
	}
	return CompressionResult{}, errors.Join(errs...)
}

func (r *mergeRun) finalize(compressed CompressionResult, provisional []store.Segment) (*Result, error) {
	r.enter(store.StageFinalize)
	fail := func(op, msg string, err error) (*Result, error) {
		return nil, services.Wrap(services.ErrTransient, stageName, op, msg, err)
	}
	probe, err := r.o.prober.Inspect(r.ctx, compressed.Output)
	if err != nil {
		return nil, services.Wrap(services.ErrCompression, stageName, "finalize", "probe compressed output", err)
	}
	total := probe.DurationMS()
	if total <= 0 {
		return nil, services.Wrap(services.ErrCompression, stageName, "finalize", "compressed output has no duration", nil)
	}
	segs, ok := segments.FromChapters(probe.Chapters, segments.Count, total)
	if !ok {
		segs, err = segments.Scale(provisional, total)
		if err != nil {
			return fail("finalize", "derive boundaries", err)
		}
	}
	if err := segments.Validate(segs, total); err != nil {
		return fail("finalize", "validate boundaries", err)
	}

	staging := filepath.Join(r.work, "final")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fail("finalize", "create staging directory", err)
	}
	ext := strings.ToLower(filepath.Ext(compressed.Output))
	if ext == "" {
		ext = ".mp4"
	}
	mediaName := "merged" + ext
	if err := fileutil.MoveFile(compressed.Output, filepath.Join(staging, mediaName)); err != nil {
		return fail("finalize", "stage merged file", err)
	}
	info, err := os.Stat(filepath.Join(staging, mediaName))
	if err != nil {
		return fail("finalize", "stat merged file", err)
	}
	if err := segments.WriteSidecar(filepath.Join(staging, segments.SidecarName), r.assetID, segs); err != nil {
		return fail("finalize", "write segment sidecar", err)
	}
	if err := r.ctx.Err(); err != nil {
		return fail("finalize", "cancelled before publish", err)
	}

	finalDir := filepath.Join(r.o.assetsDir, r.assetID)
	if err := os.MkdirAll(r.o.assetsDir, 0o755); err != nil {
		return fail("finalize", "create assets directory", err)
	}
	if err := os.Rename(staging, finalDir); err != nil {
		return fail("finalize", "publish asset directory", err)
	}
	jobID, _ := services.JobIDFromContext(r.ctx)
	asset := &store.MergedAsset{
		ID:              r.assetID,
		ChallengeID:     r.clips[0].ChallengeID,
		JobID:           jobID,
		FilePath:        filepath.Join(finalDir, mediaName),
		TotalDurationMS: total,
		ByteSize:        info.Size(),
		Preset:          r.preset.Name,
		Strategy:        compressed.Strategy,
		Status:          store.AssetPendingReview,
	}
	if err := r.o.assets.InsertAsset(r.ctx, asset, segs); err != nil {
		_ = os.RemoveAll(finalDir)
		return fail("finalize", "record asset", err)
	}
	r.progress(store.StageFinalize, overallPercent(store.StageFinalize, 100))
	return &Result{Asset: asset, Segments: segs}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}


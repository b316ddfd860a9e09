package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"clipstitch/internal/logging"
	"clipstitch/internal/merge"
	"clipstitch/internal/moderation"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

func (r *Runner) runJob(ctx context.Context, job *store.MergeJob) {
	jobCtx := services.WithJobID(services.WithChallengeID(ctx, job.ChallengeID), job.ID)
	logger := logging.WithContext(jobCtx, r.logger)
	// Bookkeeping must land even when shutdown cancels the job.
	bookkeeping := context.WithoutCancel(jobCtx)

	lease, err := r.locker.Acquire(jobCtx, "challenge:"+job.ChallengeID, r.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			logger.Info("challenge merge running on another worker; releasing claim",
				logging.String(logging.FieldEventType, "job_deferred"),
			)
		} else {
			logging.WarnWithContext(logger, "merge lock unavailable", "merge_lock_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job returns to pending"),
			)
		}
		if relErr := r.store.ReleaseJob(bookkeeping, job.ID); relErr != nil {
			logger.Error("failed to release job claim", logging.Error(relErr))
		}
		r.sleep(ctx, r.pollInterval)
		return
	}
	defer func() {
		if err := lease.Release(bookkeeping); err != nil {
			logger.Warn("failed to release merge lock", logging.Error(err))
		}
	}()

	r.trackActive(job, true)
	defer r.trackActive(job, false)

	runCtx, cancelRun := context.WithCancel(jobCtx)
	defer cancelRun()
	var hb sync.WaitGroup
	hb.Add(1)
	go r.heartbeat.StartLoop(runCtx, &hb, job.ID, lease, cancelRun)

	started := time.Now()
	logger.Info("merge job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("preset", job.Preset),
		logging.Int("attempt", job.Attempts),
	)
	result, err := r.execute(runCtx, job, logger)
	leaseLost := runCtx.Err() != nil && jobCtx.Err() == nil
	cancelRun()
	hb.Wait()

	switch {
	case err == nil:
		r.finish(bookkeeping, job, result, logger, time.Since(started))
	case ctx.Err() != nil || leaseLost:
		logger.Info("merge job interrupted; returning to queue",
			logging.String(logging.FieldEventType, "job_interrupted"),
			logging.Bool("lease_lost", leaseLost),
		)
		if relErr := r.store.ReleaseJob(bookkeeping, job.ID); relErr != nil {
			logger.Error("failed to requeue interrupted job", logging.Error(relErr))
		}
	default:
		r.fail(bookkeeping, job, err, logger)
	}
}

func (r *Runner) execute(ctx context.Context, job *store.MergeJob, logger *slog.Logger) (*merge.Result, error) {
	latest, err := r.store.LatestClips(ctx, job.ChallengeID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "load clips", "read merge set", err)
	}
	clips := make([]*store.Clip, 0, len(latest))
	for _, clip := range latest {
		if clip != nil {
			clips = append(clips, clip)
		}
	}
	preset := strings.TrimSpace(job.Preset)
	if preset == "" {
		preset = r.cfg.Merge.DefaultPreset
	}

	var mu sync.Mutex
	persist := logging.NewProgressSampler(1)
	announce := logging.NewProgressSampler(25)
	progress := func(stage store.JobStage, percent float64) {
		mu.Lock()
		defer mu.Unlock()
		if persist.ShouldLog(string(stage), percent) {
			if err := r.store.UpdateJobProgress(ctx, job.ID, stage, percent); err != nil && ctx.Err() == nil {
				logger.Warn("failed to persist merge progress", logging.Error(err))
			}
		}
		if announce.ShouldLog(string(stage), percent) {
			logger.Info("merge progress",
				logging.String(logging.FieldEventType, "merge_progress"),
				logging.String(logging.FieldStage, string(stage)),
				logging.Float64("percent", percent),
			)
		}
	}
	return r.merger.MergeSet(ctx, job.ChallengeID, clips, preset, progress)
}

func (r *Runner) finish(ctx context.Context, job *store.MergeJob, result *merge.Result, logger *slog.Logger, elapsed time.Duration) {
	asset := result.Asset
	if err := r.store.UpdateJobProgress(ctx, job.ID, store.StageModerate, 100); err != nil {
		logger.Warn("failed to record moderation stage", logging.Error(err))
	}
	r.moderate(ctx, asset, logger)
	if err := r.store.CompleteJob(ctx, job.ID, asset.ID); err != nil {
		r.setLastError(err)
		logger.Error("failed to record merge success",
			logging.Error(err),
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String(logging.FieldErrorHint, "asset exists on disk and in the database; job row is stale"),
		)
		return
	}
	logger.Info("merge job succeeded",
		logging.String(logging.FieldEventType, "job_succeeded"),
		logging.String(logging.FieldAssetID, asset.ID),
		logging.String("strategy", asset.Strategy),
		logging.Duration("elapsed", elapsed),
	)
}

func (r *Runner) fail(ctx context.Context, job *store.MergeJob, err error, logger *slog.Logger) {
	r.setLastError(err)
	kind := services.ErrorKind(err)
	if services.Retryable(err) && job.Attempts < r.maxAttempts {
		logging.WarnWithContext(logger, "merge job failed transiently; requeued", "job_requeued",
			append(logging.ErrorAttrs(err),
				logging.Int("attempt", job.Attempts),
				logging.String(logging.FieldImpact, "job will run again"),
			)...,
		)
		if reqErr := r.store.RequeueJob(ctx, job.ID, kind, err.Error()); reqErr != nil {
			logger.Error("failed to requeue job", logging.Error(reqErr))
		}
		r.Wake()
		return
	}
	var slot *int
	if idx, ok := services.SlotFromError(err); ok {
		slot = &idx
	}
	logging.ErrorWithContext(logger, "merge job failed", "job_failed",
		append(logging.ErrorAttrs(err),
			logging.Int("attempt", job.Attempts),
			logging.String(logging.FieldImpact, "no asset produced; retry the job or re-upload the failing clip"),
		)...,
	)
	if failErr := r.store.FailJob(ctx, job.ID, kind, err.Error(), slot); failErr != nil {
		logger.Error("failed to record job failure", logging.Error(failErr))
	}
}

// moderate applies the scanner verdict. Scan errors leave the asset in
// pending_review for the next sweep.
func (r *Runner) moderate(ctx context.Context, asset *store.MergedAsset, logger *slog.Logger) {
	verdict, err := r.scanner.Scan(ctx, moderation.Request{
		AssetID:     asset.ID,
		ChallengeID: asset.ChallengeID,
		DurationMS:  asset.TotalDurationMS,
		ByteSize:    asset.ByteSize,
	})
	if err != nil {
		logging.WarnWithContext(logger, "moderation scan failed", "moderation_failed",
			append(logging.ErrorAttrs(err),
				logging.String(logging.FieldAssetID, asset.ID),
				logging.String(logging.FieldImpact, "asset stays pending review until the next sweep"),
			)...,
		)
		return
	}
	status := store.AssetVisible
	if !verdict.Approved {
		status = store.AssetQuarantined
	}
	if err := r.store.SetAssetStatus(ctx, asset.ID, status, verdict.Reasons); err != nil {
		logger.Error("failed to record moderation verdict", logging.Error(err), logging.String(logging.FieldAssetID, asset.ID))
		return
	}
	asset.Status = status
	asset.ModerationReasons = verdict.Reasons
	if status == store.AssetQuarantined {
		logger.Warn("asset quarantined by moderation",
			logging.String(logging.FieldEventType, "asset_quarantined"),
			logging.String(logging.FieldAssetID, asset.ID),
			logging.String("reasons", strings.Join(verdict.Reasons, ", ")),
		)
		return
	}
	logger.Info("asset approved",
		logging.String(logging.FieldEventType, "asset_approved"),
		logging.String(logging.FieldAssetID, asset.ID),
	)
}

func (r *Runner) rescanPending(ctx context.Context, logger *slog.Logger) {
	pending, err := r.store.ListAssets(ctx, store.AssetPendingReview)
	if err != nil {
		logger.Warn("failed to list assets pending review", logging.Error(err))
		return
	}
	grace := r.heartbeat.heartbeatTimeout
	for _, asset := range pending {
		if r.isActiveJob(asset.JobID) || r.now().Sub(asset.CreatedAt) < grace {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		r.moderate(ctx, asset, logger)
	}
}

func (r *Runner) trackActive(job *store.MergeJob, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		snapshot := *job
		r.active[job.ID] = &snapshot
		return
	}
	delete(r.active, job.ID)
}

func (r *Runner) isActiveJob(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[id]
	return ok
}

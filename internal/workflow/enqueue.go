package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"clipstitch/internal/logging"
	"clipstitch/internal/media/ffmpeg"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
)

// ClipAssembled is the upload completion hook: once a challenge has a clip
// for every statement it enqueues a merge with the default preset.
func (r *Runner) ClipAssembled(ctx context.Context, clip *store.Clip) error {
	if clip == nil {
		return nil
	}
	missing, err := r.missingSlots(ctx, clip.ChallengeID)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		r.logger.Debug("merge set incomplete; waiting for more clips",
			logging.String(logging.FieldChallengeID, clip.ChallengeID),
			logging.Any("missing_slots", missing),
		)
		return nil
	}
	_, _, err = r.EnqueueMerge(ctx, clip.ChallengeID, "")
	return err
}

// EnqueueMerge queues a (re-)merge of a challenge's latest clips. An
// existing pending job is returned with created=false.
func (r *Runner) EnqueueMerge(ctx context.Context, challengeID, preset string) (*store.MergeJob, bool, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, false, services.Wrap(services.ErrValidation, "workflow", "enqueue", "challenge_id is required", nil)
	}
	preset = strings.TrimSpace(preset)
	if preset == "" {
		preset = r.cfg.Merge.DefaultPreset
	}
	resolved, ok := ffmpeg.LookupPreset(preset)
	if !ok {
		return nil, false, services.Wrap(services.ErrPresetNotFound, "workflow", "enqueue",
			fmt.Sprintf("unknown preset %q (known: %s)", preset, strings.Join(ffmpeg.PresetNames(), ", ")), nil)
	}
	missing, err := r.missingSlots(ctx, challengeID)
	if err != nil {
		return nil, false, err
	}
	if len(missing) > 0 {
		return nil, false, services.Wrap(services.ErrIncompleteMergeSet, "workflow", "enqueue",
			fmt.Sprintf("no clip for statement(s) %v", missing), nil)
	}

	job, created, err := r.store.EnqueueJob(ctx, uuid.NewString(), challengeID, resolved.Name)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "workflow", "enqueue", "persist job", err)
	}
	if created {
		r.logger.Info("merge job enqueued",
			logging.String(logging.FieldEventType, "job_enqueued"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldChallengeID, challengeID),
			logging.String("preset", resolved.Name),
		)
		r.Wake()
	}
	return job, created, nil
}

// RetryJob moves a failed job back to pending.
func (r *Runner) RetryJob(ctx context.Context, id string) (*store.MergeJob, error) {
	ok, err := r.store.RetryJob(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "retry", "update job", err)
	}
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "workflow", "retry", "job not found", nil)
		}
		return nil, services.Wrap(services.ErrTransient, "workflow", "retry", "load job", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrInvalidState, "workflow", "retry",
			fmt.Sprintf("job is %s, only failed jobs can be retried", job.Status), nil)
	}
	r.logger.Info("merge job retried",
		logging.String(logging.FieldEventType, "job_retried"),
		logging.String(logging.FieldJobID, id),
	)
	r.Wake()
	return job, nil
}

func (r *Runner) missingSlots(ctx context.Context, challengeID string) ([]int, error) {
	latest, err := r.store.LatestClips(ctx, challengeID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "workflow", "enqueue", "load clips", err)
	}
	var missing []int
	for i, clip := range latest {
		if clip == nil {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

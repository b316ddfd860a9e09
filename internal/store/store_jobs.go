package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, challenge_id, preset, stage, percent, status, attempts, asset_id, error_kind, error_message, failed_slot, last_heartbeat, created_at, updated_at"

func scanJob(scanner rowScanner) (*MergeJob, error) {
	var (
		job          MergeJob
		stage        string
		status       string
		assetID      sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		failedSlot   sql.NullInt64
		heartbeatRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ChallengeID,
		&job.Preset,
		&stage,
		&job.Percent,
		&status,
		&job.Attempts,
		&assetID,
		&errorKind,
		&errorMessage,
		&failedSlot,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Stage = JobStage(stage)
	job.Status = JobStatus(status)
	job.AssetID = assetID.String
	job.ErrorKind = errorKind.String
	job.ErrorMessage = errorMessage.String
	if failedSlot.Valid {
		slot := int(failedSlot.Int64)
		job.FailedSlot = &slot
	}
	job.LastHeartbeat = parseTimePtr(heartbeatRaw)
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	return &job, nil
}

// EnqueueJob inserts a pending merge job for a challenge. When a pending
// job already exists for the challenge it is returned instead and created
// is false.
func (s *Store) EnqueueJob(ctx context.Context, id, challengeID, preset string) (*MergeJob, bool, error) {
	ctx = ensureContext(ctx)
	var (
		existingID string
		created    bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created = false
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM merge_jobs WHERE challenge_id = ? AND status = ? ORDER BY created_at LIMIT 1`,
			challengeID, string(JobPending),
		).Scan(&existingID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		now := nowString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO merge_jobs (id, challenge_id, preset, stage, percent, status, attempts, created_at, updated_at)
             VALUES (?, ?, ?, ?, 0, ?, 0, ?, ?)`,
			id, challengeID, preset, string(StageQueued), string(JobPending), now, now,
		); err != nil {
			return err
		}
		existingID = id
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	job, err := s.GetJob(ctx, existingID)
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

// GetJob fetches a merge job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*MergeJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM merge_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, noRows(err)
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, statuses ...JobStatus) ([]*MergeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM merge_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`
	return s.queryJobs(ctx, query, args...)
}

// JobsForChallenge returns every job for a challenge, newest first.
func (s *Store) JobsForChallenge(ctx context.Context, challengeID string) ([]*MergeJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM merge_jobs WHERE challenge_id = ? ORDER BY created_at DESC, id DESC`,
		challengeID,
	)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*MergeJob, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*MergeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimNextJob moves the oldest pending job whose challenge has no running
// job to running. It returns nil when nothing is claimable.
func (s *Store) ClaimNextJob(ctx context.Context) (*MergeJob, error) {
	ctx = ensureContext(ctx)
	var claimed string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = ""
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM merge_jobs p
             WHERE p.status = ?
               AND NOT EXISTS (SELECT 1 FROM merge_jobs r WHERE r.challenge_id = p.challenge_id AND r.status = ?)
             ORDER BY p.created_at, p.id LIMIT 1`,
			string(JobPending), string(JobRunning),
		).Scan(&claimed)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		now := nowString()
		_, err = tx.ExecContext(ctx,
			`UPDATE merge_jobs SET status = ?, attempts = attempts + 1, percent = 0,
                 error_kind = NULL, error_message = NULL, failed_slot = NULL,
                 last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			string(JobRunning), now, now, claimed, string(JobPending),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if claimed == "" {
		return nil, nil
	}
	return s.GetJob(ctx, claimed)
}

// UpdateJobProgress records the stage and percent of a running job.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, stage JobStage, percent float64) error {
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET stage = ?, percent = ?, last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(stage), percent, now, now, id, string(JobRunning),
	); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Heartbeat refreshes the heartbeat of a running job.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now, now, id, string(JobRunning),
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// CompleteJob marks a running job succeeded with its asset.
func (s *Store) CompleteJob(ctx context.Context, id, assetID string) error {
	now := nowString()
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, percent = 100, asset_id = ?,
             error_kind = NULL, error_message = NULL, failed_slot = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		string(JobSucceeded), string(StageDone), assetID, now, id,
	); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with a classified error.
func (s *Store) FailJob(ctx context.Context, id, kind, message string, slot *int) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, error_kind = ?, error_message = ?, failed_slot = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ?`,
		string(JobFailed), nullableString(kind), nullableString(message), nullableInt(slot), nowString(), id,
	); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// RequeueJob returns a running job to pending after a transient failure,
// keeping the error for display until the next claim clears it.
func (s *Store) RequeueJob(ctx context.Context, id, kind, message string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, percent = 0, error_kind = ?, error_message = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobPending), string(StageQueued), nullableString(kind), nullableString(message), nowString(), id, string(JobRunning),
	); err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// ReleaseJob undoes a claim that could not start, without counting the
// attempt.
func (s *Store) ReleaseJob(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, attempts = MAX(attempts - 1, 0),
             last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobPending), string(StageQueued), nowString(), id, string(JobRunning),
	); err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// ResetRunningJobs returns every running job to pending. Used at startup
// when no worker can still own them.
func (s *Store) ResetRunningJobs(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, percent = 0, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		string(JobPending), string(StageQueued), nowString(), string(JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleJobs returns running jobs whose heartbeat is older than
// cutoff to pending.
func (s *Store) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, percent = 0, last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		string(JobPending), string(StageQueued), nowString(), string(JobRunning), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryJob moves a failed job back to pending.
func (s *Store) RetryJob(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE merge_jobs SET status = ?, stage = ?, percent = 0,
             error_kind = NULL, error_message = NULL, failed_slot = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		string(JobPending), string(StageQueued), nowString(), id, string(JobFailed),
	)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

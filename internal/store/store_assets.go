package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const assetColumns = "id, challenge_id, job_id, file_path, total_duration_ms, byte_size, preset, strategy, status, moderation_reasons, created_at"

func scanAsset(scanner rowScanner) (*MergedAsset, error) {
	var (
		asset      MergedAsset
		jobID      sql.NullString
		status     string
		reasons    sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&asset.ID,
		&asset.ChallengeID,
		&jobID,
		&asset.FilePath,
		&asset.TotalDurationMS,
		&asset.ByteSize,
		&asset.Preset,
		&asset.Strategy,
		&status,
		&reasons,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	asset.JobID = jobID.String
	asset.Status = AssetStatus(status)
	if reasons.Valid && reasons.String != "" {
		if err := json.Unmarshal([]byte(reasons.String), &asset.ModerationReasons); err != nil {
			return nil, fmt.Errorf("decode moderation reasons for asset %s: %w", asset.ID, err)
		}
	}
	asset.CreatedAt = parseTime(createdRaw)
	return &asset, nil
}

func encodeReasons(reasons []string) (any, error) {
	if len(reasons) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return nil, fmt.Errorf("encode moderation reasons: %w", err)
	}
	return string(data), nil
}

// InsertAsset persists a merged asset and its segments in one transaction.
func (s *Store) InsertAsset(ctx context.Context, asset *MergedAsset, segments []Segment) error {
	ctx = ensureContext(ctx)
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	if asset.Status == "" {
		asset.Status = AssetPendingReview
	}
	reasons, err := encodeReasons(asset.ModerationReasons)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO merged_assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			asset.ID,
			asset.ChallengeID,
			nullableString(asset.JobID),
			asset.FilePath,
			asset.TotalDurationMS,
			asset.ByteSize,
			asset.Preset,
			asset.Strategy,
			string(asset.Status),
			reasons,
			formatTime(asset.CreatedAt),
		); err != nil {
			return err
		}
		return insertSegments(ctx, tx, asset.ID, segments)
	})
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func insertSegments(ctx context.Context, tx *sql.Tx, assetID string, segments []Segment) error {
	for _, seg := range segments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segments (asset_id, statement_index, start_ms, end_ms, duration_ms) VALUES (?, ?, ?, ?, ?)`,
			assetID, seg.StatementIndex, seg.StartMS, seg.EndMS, seg.DurationMS,
		); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.StatementIndex, err)
		}
	}
	return nil
}

// ReplaceSegments rewrites the segment rows of an existing asset.
func (s *Store) ReplaceSegments(ctx context.Context, assetID string, segments []Segment) error {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE asset_id = ?`, assetID); err != nil {
			return err
		}
		return insertSegments(ctx, tx, assetID, segments)
	})
	if err != nil {
		return fmt.Errorf("replace segments: %w", err)
	}
	return nil
}

// GetAsset fetches a merged asset by ID.
func (s *Store) GetAsset(ctx context.Context, id string) (*MergedAsset, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+assetColumns+` FROM merged_assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if err != nil {
		return nil, noRows(err)
	}
	return asset, nil
}

// AssetsForChallenge returns the assets of a challenge, newest first.
func (s *Store) AssetsForChallenge(ctx context.Context, challengeID string) ([]*MergedAsset, error) {
	return s.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM merged_assets WHERE challenge_id = ? ORDER BY created_at DESC, id DESC`,
		challengeID,
	)
}

// ListAssets returns assets oldest first, optionally filtered by status.
func (s *Store) ListAssets(ctx context.Context, statuses ...AssetStatus) ([]*MergedAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM merged_assets`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`
	return s.queryAssets(ctx, query, args...)
}

func (s *Store) queryAssets(ctx context.Context, query string, args ...any) ([]*MergedAsset, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	var out []*MergedAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

// Segments returns the segment rows of an asset ordered by statement.
func (s *Store) Segments(ctx context.Context, assetID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT statement_index, start_ms, end_ms, duration_ms FROM segments WHERE asset_id = ? ORDER BY statement_index`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()
	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.StatementIndex, &seg.StartMS, &seg.EndMS, &seg.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// SetAssetStatus records a moderation outcome.
func (s *Store) SetAssetStatus(ctx context.Context, id string, status AssetStatus, reasons []string) error {
	encoded, err := encodeReasons(reasons)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE merged_assets SET status = ?, moderation_reasons = ? WHERE id = ?`,
		string(status), encoded, id,
	)
	if err != nil {
		return fmt.Errorf("set asset status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

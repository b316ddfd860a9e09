package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const clipColumns = "id, challenge_id, statement_index, session_id, owner, file_path, byte_size, duration_ms, codec_json, created_at"

func scanClip(scanner rowScanner) (*Clip, error) {
	var (
		clip       Clip
		sessionID  sql.NullString
		codecJSON  string
		createdRaw sql.NullString
	)
	if err := scanner.Scan(
		&clip.ID,
		&clip.ChallengeID,
		&clip.StatementIndex,
		&sessionID,
		&clip.Owner,
		&clip.FilePath,
		&clip.ByteSize,
		&clip.DurationMS,
		&codecJSON,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	clip.SessionID = sessionID.String
	if codecJSON != "" {
		if err := json.Unmarshal([]byte(codecJSON), &clip.Codec); err != nil {
			return nil, fmt.Errorf("decode codec params for clip %s: %w", clip.ID, err)
		}
	}
	clip.CreatedAt = parseTime(createdRaw)
	return &clip, nil
}

// InsertClip persists a clip that is not tied to an upload session
// transition.
func (s *Store) InsertClip(ctx context.Context, clip *Clip) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertClipTx(ctx, tx, clip)
	})
}

// CompleteSession records the assembled clip and marks its accepting
// session completed in one transaction. A session that left the accepting
// states first yields a *StateError and no clip row.
func (s *Store) CompleteSession(ctx context.Context, clip *Clip) error {
	ctx = ensureContext(ctx)
	if clip.SessionID == "" {
		return fmt.Errorf("clip %s has no session", clip.ID)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE upload_sessions SET status = ?, clip_id = ?, error_message = NULL, updated_at = ?
             WHERE id = ? AND status IN (?, ?)`,
			string(SessionCompleted), clip.ID, nowString(), clip.SessionID,
			string(SessionInitiated), string(SessionInProgress),
		)
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			if err := tx.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE id = ?`, clip.SessionID).Scan(&status); err != nil {
				return noRows(err)
			}
			return &StateError{Entity: "session", ID: clip.SessionID, Status: status}
		}
		return insertClipTx(ctx, tx, clip)
	})
}

func insertClipTx(ctx context.Context, tx *sql.Tx, clip *Clip) error {
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	codec, err := json.Marshal(clip.Codec)
	if err != nil {
		return fmt.Errorf("encode codec params: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO clips (`+clipColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		clip.ID,
		clip.ChallengeID,
		clip.StatementIndex,
		nullableString(clip.SessionID),
		clip.Owner,
		clip.FilePath,
		clip.ByteSize,
		clip.DurationMS,
		string(codec),
		formatTime(clip.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

// GetClip fetches a clip by ID.
func (s *Store) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	clip, err := scanClip(row)
	if err != nil {
		return nil, noRows(err)
	}
	return clip, nil
}

// LatestClips returns the most recent clip per statement slot for a
// challenge. Slots without a clip are nil.
func (s *Store) LatestClips(ctx context.Context, challengeID string) ([3]*Clip, error) {
	var out [3]*Clip
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+clipColumns+` FROM clips WHERE challenge_id = ? ORDER BY statement_index, created_at DESC, id DESC`,
		challengeID,
	)
	if err != nil {
		return out, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		clip, err := scanClip(rows)
		if err != nil {
			return out, err
		}
		if clip.StatementIndex < 0 || clip.StatementIndex > 2 {
			continue
		}
		if out[clip.StatementIndex] == nil {
			out[clip.StatementIndex] = clip
		}
	}
	return out, rows.Err()
}

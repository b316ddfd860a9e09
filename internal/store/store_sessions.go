package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sessionColumns = "id, owner, challenge_id, statement_index, total_size, chunk_size, chunk_count, mime_type, hash_algorithm, expected_hash, status, error_message, clip_id, created_at, updated_at, expires_at"

func scanSession(scanner rowScanner) (*UploadSession, error) {
	var (
		sess         UploadSession
		status       string
		expectedHash sql.NullString
		errorMessage sql.NullString
		clipID       sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		expiresRaw   sql.NullString
	)
	if err := scanner.Scan(
		&sess.ID,
		&sess.Owner,
		&sess.ChallengeID,
		&sess.StatementIndex,
		&sess.TotalSize,
		&sess.ChunkSize,
		&sess.ChunkCount,
		&sess.MimeType,
		&sess.HashAlgorithm,
		&expectedHash,
		&status,
		&errorMessage,
		&clipID,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	sess.ExpectedHash = expectedHash.String
	sess.ErrorMessage = errorMessage.String
	sess.ClipID = clipID.String
	sess.CreatedAt = parseTime(createdRaw)
	sess.UpdatedAt = parseTime(updatedRaw)
	sess.ExpiresAt = parseTime(expiresRaw)
	return &sess, nil
}

// CreateSession inserts a new session in the initiated state.
func (s *Store) CreateSession(ctx context.Context, sess *UploadSession) error {
	if sess.Status == "" {
		sess.Status = SessionInitiated
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.UpdatedAt = sess.CreatedAt
	_, err := s.execWithRetry(ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Owner,
		sess.ChallengeID,
		sess.StatementIndex,
		sess.TotalSize,
		sess.ChunkSize,
		sess.ChunkCount,
		sess.MimeType,
		sess.HashAlgorithm,
		nullableString(sess.ExpectedHash),
		string(sess.Status),
		nullableString(sess.ErrorMessage),
		nullableString(sess.ClipID),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
		formatTime(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, noRows(err)
	}
	return sess, nil
}

// ListSessions returns sessions ordered by creation time, optionally
// filtered by status.
func (s *Store) ListSessions(ctx context.Context, statuses ...SessionStatus) ([]*UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*UploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CountActiveSessions returns the number of sessions owned by owner that
// still accept chunks and have not passed their TTL.
func (s *Store) CountActiveSessions(ctx context.Context, owner string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM upload_sessions WHERE owner = ? AND status IN (?, ?) AND expires_at > ?`,
		owner, string(SessionInitiated), string(SessionInProgress), formatTime(now),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return count, nil
}

// RecordChunk upserts a chunk row and moves an initiated session to
// in_progress. It returns the number of distinct chunks received. The
// session must still be accepting; otherwise ErrNotFound is returned when
// the row is gone and an error wrapping the current status otherwise.
func (s *Store) RecordChunk(ctx context.Context, sessionID string, chunk Chunk) (int, error) {
	ctx = ensureContext(ctx)
	var received int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE id = ?`, sessionID).Scan(&status); err != nil {
			return noRows(err)
		}
		if !SessionStatus(status).Accepting() {
			return &StateError{Entity: "session", ID: sessionID, Status: status}
		}
		now := nowString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO upload_chunks (session_id, chunk_number, hash, size, received_at)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(session_id, chunk_number) DO UPDATE SET hash = excluded.hash, size = excluded.size, received_at = excluded.received_at`,
			sessionID, chunk.Number, chunk.Hash, chunk.Size, now,
		); err != nil {
			return fmt.Errorf("upsert chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE upload_sessions SET status = CASE status WHEN ? THEN ? ELSE status END, updated_at = ? WHERE id = ?`,
			string(SessionInitiated), string(SessionInProgress), now, sessionID,
		); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM upload_chunks WHERE session_id = ?`, sessionID).Scan(&received)
	})
	if err != nil {
		return 0, err
	}
	return received, nil
}

// Chunks returns the received chunks ordered by chunk number.
func (s *Store) Chunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT chunk_number, hash, size, received_at FROM upload_chunks WHERE session_id = ? ORDER BY chunk_number`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var (
			c        Chunk
			received sql.NullString
		)
		if err := rows.Scan(&c.Number, &c.Hash, &c.Size, &received); err != nil {
			return nil, err
		}
		c.ReceivedAt = parseTime(received)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionSession moves a session to status `to` only when its current
// status is one of `from`. It reports whether the row changed.
func (s *Store) TransitionSession(ctx context.Context, id string, to SessionStatus, message string, from ...SessionStatus) (bool, error) {
	args := []any{string(to), nullableString(message), nowString(), id}
	for _, status := range from {
		args = append(args, string(status))
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE upload_sessions SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireSessions marks accepting sessions whose TTL passed before now as
// expired and returns their IDs.
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM upload_sessions WHERE status IN (?, ?) AND expires_at <= ?`,
			string(SessionInitiated), string(SessionInProgress), formatTime(now),
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		args := []any{string(SessionExpired), nowString()}
		for _, id := range ids {
			args = append(args, id)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE upload_sessions SET status = ?, updated_at = ? WHERE id IN (`+makePlaceholders(len(ids))+`)`,
			args...,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}
	return ids, nil
}

// PurgeSessions deletes terminal sessions last updated before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM upload_sessions WHERE status IN (?, ?, ?, ?) AND updated_at < ?`,
		string(SessionCompleted), string(SessionFailed), string(SessionCancelled), string(SessionExpired),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

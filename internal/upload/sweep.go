package upload

import (
	"context"
	"errors"
	"os"
	"time"

	"clipstitch/internal/logging"
	"clipstitch/internal/store"
)

// orphanGrace protects directories created by an Initiate that has not yet
// inserted its session row.
const orphanGrace = time.Minute

// SweepResult counts what one expiry sweep reclaimed.
type SweepResult struct {
	Expired int
	Orphans int
	Purged  int64
}

// ExpirySweep expires open sessions past their TTL, reclaims chunk storage
// nobody owns, and purges terminal rows older than the retention window.
func (m *Manager) ExpirySweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult

	expired, err := m.store.ExpireSessions(ctx, now)
	if err != nil {
		return result, err
	}
	for _, id := range expired {
		unlock := m.locks.Lock(id)
		m.release(id)
		unlock()
	}
	result.Expired = len(expired)

	dirs, err := m.chunks.List()
	if err != nil {
		return result, err
	}
	for _, id := range dirs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !m.isOrphan(ctx, id, now) {
			continue
		}
		unlock := m.locks.Lock(id)
		m.release(id)
		unlock()
		result.Orphans++
	}

	if m.retention > 0 {
		purged, err := m.store.PurgeSessions(ctx, now.Add(-m.retention))
		if err != nil {
			return result, err
		}
		result.Purged = purged
	}

	if result.Expired > 0 || result.Orphans > 0 || result.Purged > 0 {
		m.logger.Info("upload sweep reclaimed storage",
			logging.String(logging.FieldEventType, "sessions_swept"),
			logging.Int("expired", result.Expired),
			logging.Int("orphans", result.Orphans),
			logging.Int64("purged", result.Purged),
		)
	}
	return result, nil
}

func (m *Manager) isOrphan(ctx context.Context, id string, now time.Time) bool {
	sess, err := m.store.GetSession(ctx, id)
	switch {
	case err == nil:
		return sess.Status.Terminal()
	case !errors.Is(err, store.ErrNotFound):
		return false
	}
	created := time.Time{}
	if manifest, err := m.chunks.ReadManifest(id); err == nil {
		created = manifest.CreatedAt
	} else if info, statErr := os.Stat(m.chunks.Dir(id)); statErr == nil {
		created = info.ModTime()
	}
	return now.Sub(created) >= orphanGrace
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clipstitch/internal/logging"
	"clipstitch/internal/store"
)

// HeartbeatMonitor keeps claimed jobs alive and reclaims abandoned ones.
type HeartbeatMonitor struct {
	store             *store.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             st,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               time.Now,
	}
}

// ReclaimStaleJobs returns running jobs without a recent heartbeat to pending.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context, logger *slog.Logger) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale merge jobs",
			logging.String(logging.FieldEventType, "jobs_reclaimed"),
			logging.Int64("count", reclaimed),
		)
	}
	return reclaimed, nil
}

// StartLoop refreshes the job heartbeat and its lease until ctx is done.
// A lost lease cancels the job through onLost.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string, lease Lease, onLost func()) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Heartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
			if lease == nil {
				continue
			}
			if err := lease.Refresh(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logging.WarnWithContext(logger, "merge lock lost", "merge_lock_lost",
					logging.Error(err),
					logging.String(logging.FieldImpact, "job will be cancelled and requeued"),
				)
				if errors.Is(err, ErrLockHeld) && onLost != nil {
					onLost()
					return
				}
			}
		}
	}
}

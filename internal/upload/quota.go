package upload

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// Quota reports how many uploads a principal currently has open.
type Quota interface {
	CurrentUploadCount(ctx context.Context, principal string) (int, error)
}

type activeCounter interface {
	CountActiveSessions(ctx context.Context, owner string, now time.Time) (int, error)
}

// StoreQuota counts the principal's accepting, unexpired sessions.
type StoreQuota struct {
	counter activeCounter
	now     func() time.Time
}

// NewStoreQuota returns a Quota backed by the session table.
func NewStoreQuota(counter activeCounter) *StoreQuota {
	return &StoreQuota{counter: counter, now: time.Now}
}

// CurrentUploadCount implements Quota.
func (q *StoreQuota) CurrentUploadCount(ctx context.Context, principal string) (int, error) {
	return q.counter.CountActiveSessions(ctx, principal, q.now())
}

// FreeSpaceFunc returns the bytes available to unprivileged writers at path.
type FreeSpaceFunc func(path string) (uint64, error)

// StatfsFreeSpace reports available space on the filesystem holding path.
func StatfsFreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil //nolint:gosec
}

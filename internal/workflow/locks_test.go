package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"clipstitch/internal/testsupport"
	"clipstitch/internal/workflow"
)

func TestLocalLockerExcludesKey(t *testing.T) {
	locker := workflow.NewLocalLocker()
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "challenge:c1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "challenge:c1", time.Minute); !errors.Is(err, workflow.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	other, err := locker.Acquire(ctx, "challenge:c2", time.Minute)
	if err != nil {
		t.Fatalf("unrelated key should not contend: %v", err)
	}
	_ = other.Release(ctx)

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := locker.Acquire(ctx, "challenge:c1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	// A stale lease must not free a key that was re-acquired.
	_ = lease.Release(ctx)
	if _, err := locker.Acquire(ctx, "challenge:c1", time.Minute); !errors.Is(err, workflow.ErrLockHeld) {
		t.Fatalf("stale release freed the key: %v", err)
	}
	_ = again.Release(ctx)
}

func TestNewLockerDefaultsToLocal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	locker, closeFn, err := workflow.NewLocker(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewLocker: %v", err)
	}
	defer closeFn()
	if _, ok := locker.(*workflow.LocalLocker); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}
}

func TestNewLockerRejectsBadRedisURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Coordination.RedisURL = "not-a-redis-url"
	if _, _, err := workflow.NewLocker(context.Background(), cfg); err == nil {
		t.Fatal("expected invalid redis url to fail")
	}
}

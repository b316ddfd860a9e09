package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clipstitch/internal/config"
)

// ErrLockHeld reports that another worker owns the key.
var ErrLockHeld = errors.New("lock held by another worker")

// Lease is an acquired lock.
type Lease interface {
	// Refresh extends the lease before its TTL lapses.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker hands out per-key leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// NewLocker returns a Redis locker when coordination.redis_url is set and
// an in-process locker otherwise. The returned close func releases the
// client.
func NewLocker(ctx context.Context, cfg *config.Config) (Locker, func() error, error) {
	raw := strings.TrimSpace(cfg.Coordination.RedisURL)
	if raw == "" {
		return NewLocalLocker(), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse coordination.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisLocker(client, "clipstitch:lock:"), client.Close, nil
}

// LocalLocker serializes keys within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]uint64)}
}

// Acquire implements Locker. The TTL is ignored: a process that dies
// releases everything with it.
func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLockHeld
	}
	l.next++
	l.held[key] = l.next
	return &localLease{locker: l, key: key, token: l.next}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  uint64
}

func (l *localLease) Refresh(context.Context) error { return nil }

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.key] == l.token {
		delete(l.locker.held, l.key)
	}
	return nil
}

// Compare-and-act scripts keep a worker from touching a lease that expired
// and was taken over by another daemon.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker wraps a connected client.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	full := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", full, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLease{client: r.client, key: full, token: token, ttl: ttl}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (l *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh lock %s: %w", l.key, ErrLockHeld)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clipstitch/internal/config"
	"clipstitch/internal/logging"
	"clipstitch/internal/merge"
	"clipstitch/internal/moderation"
	"clipstitch/internal/store"
	"clipstitch/internal/upload"
)

const (
	defaultMaxAttempts = 3
	errorRetryInterval = 5 * time.Second
)

// Merger runs one merge.
type Merger interface {
	MergeSet(ctx context.Context, challengeID string, clips []*store.Clip, preset string, progress merge.ProgressFunc) (*merge.Result, error)
}

// Sweeper reclaims abandoned uploads.
type Sweeper interface {
	ExpirySweep(ctx context.Context, now time.Time) (upload.SweepResult, error)
}

// Runner claims merge jobs from the store and executes them.
type Runner struct {
	cfg       *config.Config
	store     *store.Store
	merger    Merger
	scanner   moderation.Scanner
	sweeper   Sweeper
	locker    Locker
	heartbeat *HeartbeatMonitor
	checks    map[string]HealthCheck
	logger    *slog.Logger

	workers       int
	pollInterval  time.Duration
	sweepInterval time.Duration
	lockTTL       time.Duration
	maxAttempts   int
	exclusive     bool
	now           func() time.Time

	wake chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	active  map[string]*store.MergeJob
}

// Option configures optional Runner behavior.
type Option func(*Runner)

// WithSweeper enables the periodic upload expiry sweep.
func WithSweeper(s Sweeper) Option {
	return func(r *Runner) { r.sweeper = s }
}

// WithLocker overrides the in-process challenge locker.
func WithLocker(l Locker) Option {
	return func(r *Runner) {
		if l != nil {
			r.locker = l
		}
	}
}

// WithExclusiveDataDir declares this process the only one using the data
// directory, so every running job left behind at startup is orphaned.
func WithExclusiveDataDir() Option {
	return func(r *Runner) { r.exclusive = true }
}

// WithHealthCheck registers a dependency check reported by Status.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(r *Runner) {
		if check != nil {
			r.checks[name] = check
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
			r.heartbeat.now = now
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(cfg *config.Config, st *store.Store, merger Merger, scanner moderation.Scanner, logger *slog.Logger, opts ...Option) *Runner {
	logger = logging.NewComponentLogger(logger, "workflow")
	if scanner == nil {
		scanner = moderation.AllowAll{}
	}
	workers := cfg.Merge.Workers
	if workers <= 0 {
		workers = 1
	}
	r := &Runner{
		cfg:     cfg,
		store:   st,
		merger:  merger,
		scanner: scanner,
		locker:  NewLocalLocker(),
		heartbeat: NewHeartbeatMonitor(
			st,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		checks:        make(map[string]HealthCheck),
		logger:        logger,
		workers:       workers,
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		sweepInterval: time.Duration(cfg.Workflow.SweepInterval) * time.Second,
		lockTTL:       time.Duration(cfg.Coordination.LockTTLSeconds) * time.Second,
		maxAttempts:   defaultMaxAttempts,
		now:           time.Now,
		wake:          make(chan struct{}, 1),
		active:        make(map[string]*store.MergeJob),
	}
	if r.pollInterval <= 0 {
		r.pollInterval = time.Second
	}
	if r.lockTTL <= 0 {
		r.lockTTL = cfg.MergeTimeout() + time.Minute
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins background processing.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("workflow already running")
	}
	if r.merger == nil {
		r.mu.Unlock()
		return errors.New("workflow merger not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.recoverJobs(runCtx)

	r.wg.Add(2)
	go r.dispatch(runCtx)
	go r.maintain(runCtx)
	r.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("workers", r.workers),
	)
	return nil
}

// Stop cancels running jobs and waits for every goroutine to exit.
// Interrupted jobs return to pending.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Wake nudges the dispatcher to poll immediately.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) recoverJobs(ctx context.Context) {
	if r.exclusive {
		n, err := r.store.ResetRunningJobs(ctx)
		if err != nil {
			r.logger.Warn("reset orphaned jobs failed; they will be reclaimed once stale",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_reset_failed"),
			)
			return
		}
		if n > 0 {
			r.logger.Info("requeued jobs orphaned by previous run",
				logging.String(logging.FieldEventType, "jobs_recovered"),
				logging.Int64("count", n),
			)
		}
		return
	}
	if _, err := r.heartbeat.ReclaimStaleJobs(ctx, r.logger); err != nil {
		r.logger.Warn("reclaim stale jobs failed", logging.Error(err))
	}
}

// dispatch claims jobs while worker slots are free.
func (r *Runner) dispatch(ctx context.Context) {
	defer r.wg.Done()
	slots := make(chan struct{}, r.workers)
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		job, err := r.store.ClaimNextJob(ctx)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return
			}
			r.setLastError(err)
			r.logger.Error("failed to claim merge job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			r.sleep(ctx, errorRetryInterval)
			continue
		}
		if job == nil {
			<-slots
			r.waitForWork(ctx)
			continue
		}

		r.wg.Add(1)
		go func(job *store.MergeJob) {
			defer r.wg.Done()
			defer func() { <-slots }()
			r.runJob(ctx, job)
		}(job)
	}
}

func (r *Runner) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-r.wake:
	case <-time.After(r.pollInterval):
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// maintain runs the periodic sweep until ctx is done.
func (r *Runner) maintain(ctx context.Context) {
	defer r.wg.Done()
	if r.sweepInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass: upload expiry, stale job reclaim,
// and moderation retries.
func (r *Runner) Sweep(ctx context.Context) {
	logger := logging.WithContext(ctx, r.logger)
	if r.sweeper != nil {
		if _, err := r.sweeper.ExpirySweep(ctx, r.now()); err != nil {
			logging.WarnWithContext(logger, "upload expiry sweep failed", "sweep_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "expired uploads keep their storage until the next sweep"),
			)
		}
	}
	if _, err := r.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil {
		logger.Warn("reclaim stale jobs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
	}
	r.rescanPending(ctx, logger)
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

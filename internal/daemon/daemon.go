package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"clipstitch/internal/assemble"
	"clipstitch/internal/assets"
	"clipstitch/internal/chunkstore"
	"clipstitch/internal/config"
	"clipstitch/internal/deps"
	"clipstitch/internal/logging"
	"clipstitch/internal/media/ffmpeg"
	"clipstitch/internal/media/ffprobe"
	"clipstitch/internal/merge"
	"clipstitch/internal/moderation"
	"clipstitch/internal/preflight"
	"clipstitch/internal/segments"
	"clipstitch/internal/services/drapto"
	"clipstitch/internal/store"
	"clipstitch/internal/upload"
	"clipstitch/internal/workflow"
)

// Daemon owns the service graph and enforces data-dir ownership.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	uploads *upload.Manager
	runner  *workflow.Runner
	assets  *assets.Server

	closeLocker func() error
	shared      bool
	lockPath    string
	lock        *flock.Flock
	api         *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	SharedLock   bool
	Workflow     workflow.StatusSummary
	Dependencies []deps.Status
}

// Option replaces a production collaborator, mostly for tests.
type Option func(*options)

type options struct {
	prober  ffprobe.Prober
	merger  workflow.Merger
	scanner moderation.Scanner
	free    upload.FreeSpaceFunc
}

// WithProber overrides the ffprobe-backed prober used by clip assembly.
func WithProber(p ffprobe.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithMerger overrides the merge orchestrator.
func WithMerger(m workflow.Merger) Option {
	return func(o *options) { o.merger = m }
}

// WithScanner overrides the moderation collaborator.
func WithScanner(s moderation.Scanner) Option {
	return func(o *options) { o.scanner = s }
}

// WithFreeSpace overrides the free-space probe.
func WithFreeSpace(fn upload.FreeSpaceFunc) Option {
	return func(o *options) { o.free = fn }
}

// New builds every service object from configuration and wires them
// together. The store is owned by the daemon from here on.
func New(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{
		prober:  ffprobe.Binary(cfg.FFprobeBinary()),
		scanner: moderation.NewScanner(cfg),
		free:    upload.StatfsFreeSpace,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var compressors []merge.Compressor
	if o.merger == nil {
		transcoder := ffmpeg.New(cfg.FFmpegBinary(), logger)
		built, err := merge.BuildCompressors(cfg.Merge.Compressors, transcoder, drapto.NewLibrary(logger))
		if err != nil {
			return nil, fmt.Errorf("build compressors: %w", err)
		}
		compressors = built
		o.merger = merge.NewOrchestrator(cfg, transcoder, o.prober, compressors, st, logger)
	}

	locker, closeLocker, err := workflow.NewLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	shared := strings.TrimSpace(cfg.Coordination.RedisURL) != ""

	chunks := chunkstore.New(cfg.SessionsDir())
	assembler := assemble.New(st, o.prober, cfg.ClipsDir(), logger)

	var runner *workflow.Runner
	uploads := upload.NewManager(cfg, st, chunks, assembler, logger,
		upload.WithQuota(upload.NewStoreQuota(st)),
		upload.WithFreeSpace(o.free),
		upload.WithCompletionHook(func(ctx context.Context, clip *store.Clip) error {
			return runner.ClipAssembled(ctx, clip)
		}),
	)

	runnerOpts := []workflow.Option{workflow.WithLocker(locker), workflow.WithSweeper(uploads)}
	if !shared {
		runnerOpts = append(runnerOpts, workflow.WithExclusiveDataDir())
	}
	for name, check := range healthChecks(cfg, st, compressors, o.free) {
		runnerOpts = append(runnerOpts, workflow.WithHealthCheck(name, check))
	}
	runner = workflow.NewRunner(cfg, st, o.merger, o.scanner, logger, runnerOpts...)

	index := segments.NewIndex(st, cfg.AssetsDir(), logger)
	server := assets.NewServer(st, index, logger)

	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       st,
		uploads:     uploads,
		runner:      runner,
		assets:      server,
		closeLocker: closeLocker,
		shared:      shared,
		lockPath:    cfg.LockPath(),
		lock:        flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

func healthChecks(cfg *config.Config, st *store.Store, compressors []merge.Compressor, free upload.FreeSpaceFunc) map[string]workflow.HealthCheck {
	checks := map[string]workflow.HealthCheck{
		"database": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		},
		"storage": func() error {
			avail, err := free(cfg.Paths.DataDir)
			if err != nil {
				return err
			}
			if floor := cfg.Upload.MinFreeBytes; floor > 0 && avail < uint64(floor) {
				return fmt.Errorf("%d bytes free, want at least %d", avail, floor)
			}
			return nil
		},
		"directories": func() error {
			var errs []error
			for name, dir := range preflight.Directories(cfg) {
				if r := preflight.CheckDirectoryAccess(name, dir); !r.Passed {
					errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
				}
			}
			return errors.Join(errs...)
		},
	}
	for _, req := range deps.MediaRequirements(cfg) {
		checks[strings.ToLower(req.Name)] = func() error {
			status := deps.CheckBinaries([]deps.Requirement{req})[0]
			if !status.Available {
				return errors.New(status.Detail)
			}
			return nil
		}
	}
	for _, c := range compressors {
		checks["compressor:"+c.Name()] = c.Available
	}
	return checks
}

// Start acquires the data-dir lock and launches the runner and API server.
// With a shared coordination lock configured several daemons may hold the
// data dir at once.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	var ok bool
	var err error
	if d.shared {
		ok, err = d.lock.TryRLock()
	} else {
		ok, err = d.lock.TryLock()
	}
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clipstitch daemon instance owns this data directory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.runner.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("clipstitch daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("shared_lock", d.shared),
	)
	return nil
}

// Stop stops background processing and releases the data-dir lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.runner.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("clipstitch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.closeLocker != nil {
		errs = append(errs, d.closeLocker())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Addr returns the API listener address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the daemon runtime status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		SharedLock:   d.shared,
		Workflow:     d.runner.Status(ctx),
		Dependencies: deps.CheckBinaries(deps.MediaRequirements(d.cfg)),
	}
}

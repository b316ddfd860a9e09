package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipstitch/internal/config"
	"clipstitch/internal/merge"
	"clipstitch/internal/moderation"
	"clipstitch/internal/segments"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
	"clipstitch/internal/testsupport"
	"clipstitch/internal/workflow"
)

type fakeMerger struct {
	st *store.Store

	mu    sync.Mutex
	errs  []error
	calls int
}

func (m *fakeMerger) MergeSet(ctx context.Context, challengeID string, clips []*store.Clip, preset string, progress merge.ProgressFunc) (*merge.Result, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.mu.Unlock()
	if call < len(m.errs) && m.errs[call] != nil {
		return nil, m.errs[call]
	}
	if len(clips) != segments.Count {
		return nil, services.Wrap(services.ErrIncompleteMergeSet, "merge", "validate", "missing clips", nil)
	}
	progress(store.StageNormalize, 10)
	progress(store.StageCompress, 60)
	jobID, _ := services.JobIDFromContext(ctx)
	asset := &store.MergedAsset{
		ID:              fmt.Sprintf("asset-%s-%d", challengeID, call),
		ChallengeID:     challengeID,
		JobID:           jobID,
		FilePath:        "/assets/merged.mp4",
		TotalDurationMS: 12000,
		ByteSize:        10,
		Preset:          preset,
		Strategy:        "ffmpeg",
	}
	segs := segments.FromDurations([]int64{5000, 3000, 4000})
	if err := m.st.InsertAsset(ctx, asset, segs); err != nil {
		return nil, err
	}
	return &merge.Result{Asset: asset, Segments: segs}, nil
}

func (m *fakeMerger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeScanner struct {
	mu      sync.Mutex
	verdict moderation.Verdict
	errs    []error
	calls   int
}

func (s *fakeScanner) Scan(context.Context, moderation.Request) (moderation.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return moderation.Verdict{}, s.errs[call]
	}
	return s.verdict, nil
}

type runnerFixture struct {
	cfg    *config.Config
	store  *store.Store
	merger *fakeMerger
	runner *workflow.Runner
}

func newRunnerFixture(t *testing.T, scanner moderation.Scanner, opts ...workflow.Option) *runnerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.SweepInterval = 0
	cfg.Workflow.QueuePollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	merger := &fakeMerger{st: st}
	runner := workflow.NewRunner(cfg, st, merger, scanner, nil, opts...)
	return &runnerFixture{cfg: cfg, store: st, merger: merger, runner: runner}
}

func (f *runnerFixture) addClips(t *testing.T, challengeID string, slots ...int) {
	t.Helper()
	for _, slot := range slots {
		path := filepath.Join(f.cfg.ClipsDir(), fmt.Sprintf("%s-%d.mp4", challengeID, slot))
		testsupport.WriteFile(t, path, 16)
		testsupport.NewClip(t, f.store, challengeID, slot, path, 4000)
	}
}

func (f *runnerFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.runner.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		f.runner.Stop()
		cancel()
	})
}

func waitForJob(t *testing.T, st *store.Store, id string, want store.JobStatus) *store.MergeJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _ := st.GetJob(context.Background(), id)
	t.Fatalf("job %s did not reach %s, last state %+v", id, want, job)
	return nil
}

func TestClipAssembledEnqueuesWhenSetComplete(t *testing.T) {
	f := newRunnerFixture(t, nil)
	ctx := context.Background()

	f.addClips(t, "c1", 0, 1)
	clip, err := f.store.LatestClips(ctx, "c1")
	if err != nil {
		t.Fatalf("LatestClips: %v", err)
	}
	if err := f.runner.ClipAssembled(ctx, clip[1]); err != nil {
		t.Fatalf("ClipAssembled: %v", err)
	}
	jobs, _ := f.store.JobsForChallenge(ctx, "c1")
	if len(jobs) != 0 {
		t.Fatalf("expected no job for incomplete set, got %d", len(jobs))
	}

	f.addClips(t, "c1", 2)
	clip, _ = f.store.LatestClips(ctx, "c1")
	if err := f.runner.ClipAssembled(ctx, clip[2]); err != nil {
		t.Fatalf("ClipAssembled: %v", err)
	}
	jobs, _ = f.store.JobsForChallenge(ctx, "c1")
	if len(jobs) != 1 || jobs[0].Preset != f.cfg.Merge.DefaultPreset {
		t.Fatalf("expected one job with default preset, got %+v", jobs)
	}
}

func TestEnqueueMergeValidates(t *testing.T) {
	f := newRunnerFixture(t, nil)
	ctx := context.Background()
	f.addClips(t, "c1", 0, 2)

	if _, _, err := f.runner.EnqueueMerge(ctx, "c1", "ultra"); !errors.Is(err, services.ErrPresetNotFound) {
		t.Fatalf("expected preset not found, got %v", err)
	}
	if _, _, err := f.runner.EnqueueMerge(ctx, "c1", "high"); !errors.Is(err, services.ErrIncompleteMergeSet) {
		t.Fatalf("expected incomplete merge set, got %v", err)
	}
	if _, _, err := f.runner.EnqueueMerge(ctx, " ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunnerCompletesJobAndApprovesAsset(t *testing.T) {
	f := newRunnerFixture(t, moderation.AllowAll{})
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, created, err := f.runner.EnqueueMerge(context.Background(), "c1", "HIGH")
	if err != nil || !created {
		t.Fatalf("EnqueueMerge: created=%v err=%v", created, err)
	}
	if job.Preset != "high" {
		t.Fatalf("expected canonical preset name, got %q", job.Preset)
	}
	done := waitForJob(t, f.store, job.ID, store.JobSucceeded)
	if done.Stage != store.StageDone || done.Percent != 100 || done.AssetID == "" {
		t.Fatalf("unexpected finished job %+v", done)
	}
	asset, err := f.store.GetAsset(context.Background(), done.AssetID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.Status != store.AssetVisible || asset.JobID != job.ID {
		t.Fatalf("unexpected asset %+v", asset)
	}
}

func TestRunnerQuarantinesRejectedAsset(t *testing.T) {
	scanner := &fakeScanner{verdict: moderation.Verdict{Approved: false, Reasons: []string{"violence"}}}
	f := newRunnerFixture(t, scanner)
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	done := waitForJob(t, f.store, job.ID, store.JobSucceeded)
	asset, err := f.store.GetAsset(context.Background(), done.AssetID)
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if asset.Status != store.AssetQuarantined || len(asset.ModerationReasons) != 1 {
		t.Fatalf("expected quarantined asset, got %+v", asset)
	}
}

func TestRunnerRecordsPermanentFailure(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.merger.errs = []error{
		services.WithSlot(services.Wrap(services.ErrNormalize, "merge", "normalize", "re-encode", errors.New("exit status 1")), 1),
	}
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	failed := waitForJob(t, f.store, job.ID, store.JobFailed)
	if failed.ErrorKind != "normalize_failed" || failed.FailedSlot == nil || *failed.FailedSlot != 1 {
		t.Fatalf("unexpected failed job %+v", failed)
	}
	if f.merger.Calls() != 1 {
		t.Fatalf("permanent failures must not be retried, got %d calls", f.merger.Calls())
	}

	retried, err := f.runner.RetryJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != store.JobPending {
		t.Fatalf("expected pending after retry, got %s", retried.Status)
	}
	waitForJob(t, f.store, job.ID, store.JobSucceeded)
}

func TestRunnerRequeuesTransientFailure(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.merger.errs = []error{services.Wrap(services.ErrTransient, "merge", "finalize", "publish asset directory", nil)}
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	done := waitForJob(t, f.store, job.ID, store.JobSucceeded)
	if done.Attempts != 2 {
		t.Fatalf("expected second attempt to succeed, got %d attempts", done.Attempts)
	}
}

func TestRetryJobRejectsNonFailed(t *testing.T) {
	f := newRunnerFixture(t, nil)
	f.addClips(t, "c1", 0, 1, 2)
	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	if _, err := f.runner.RetryJob(context.Background(), job.ID); !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := f.runner.RetryJob(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSweepRescansPendingAssets(t *testing.T) {
	scanner := &fakeScanner{
		verdict: moderation.Verdict{Approved: true},
		errs:    []error{services.Wrap(services.ErrTransient, "moderation", "scan", "send request", errors.New("connection refused"))},
	}
	later := time.Now().Add(time.Hour)
	f := newRunnerFixture(t, scanner, workflow.WithClock(func() time.Time { return later }))
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	done := waitForJob(t, f.store, job.ID, store.JobSucceeded)
	asset, _ := f.store.GetAsset(context.Background(), done.AssetID)
	if asset.Status != store.AssetPendingReview {
		t.Fatalf("expected asset pending review after scan failure, got %s", asset.Status)
	}

	f.runner.Sweep(context.Background())
	asset, _ = f.store.GetAsset(context.Background(), done.AssetID)
	if asset.Status != store.AssetVisible {
		t.Fatalf("expected sweep to approve asset, got %s", asset.Status)
	}
}

func TestRunnerSerializesChallengeAcrossLocker(t *testing.T) {
	locker := workflow.NewLocalLocker()
	held, err := locker.Acquire(context.Background(), "challenge:c1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	f := newRunnerFixture(t, nil, workflow.WithLocker(locker))
	f.addClips(t, "c1", 0, 1, 2)
	f.start(t)

	job, _, err := f.runner.EnqueueMerge(context.Background(), "c1", "")
	if err != nil {
		t.Fatalf("EnqueueMerge: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if f.merger.Calls() != 0 {
		t.Fatal("merge ran while another worker held the challenge lock")
	}
	current, _ := f.store.GetJob(context.Background(), job.ID)
	if current.Attempts != 0 && current.Status == store.JobPending {
		t.Fatalf("released claim should not count as an attempt: %+v", current)
	}

	_ = held.Release(context.Background())
	waitForJob(t, f.store, job.ID, store.JobSucceeded)
}

func TestStatusReportsHealth(t *testing.T) {
	f := newRunnerFixture(t, nil,
		workflow.WithHealthCheck("ffmpeg", func() error { return nil }),
		workflow.WithHealthCheck("drapto", func() error { return errors.New("not installed") }),
	)
	status := f.runner.Status(context.Background())
	if status.Running {
		t.Fatal("runner should not report running before Start")
	}
	if len(status.Health) != 2 || status.Health[0].Name != "drapto" || status.Health[0].Ready {
		t.Fatalf("unexpected health %+v", status.Health)
	}
}

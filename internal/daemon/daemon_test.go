package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipstitch/internal/api"
	"clipstitch/internal/config"
	"clipstitch/internal/daemon"
	"clipstitch/internal/integrity"
	"clipstitch/internal/logging"
	"clipstitch/internal/merge"
	"clipstitch/internal/moderation"
	"clipstitch/internal/segments"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
	"clipstitch/internal/testsupport"
)

// fileMerger writes a patterned asset file so streaming can be exercised
// without ffmpeg.
type fileMerger struct {
	cfg *config.Config
	st  *store.Store
}

func (m *fileMerger) MergeSet(ctx context.Context, challengeID string, clips []*store.Clip, preset string, progress merge.ProgressFunc) (*merge.Result, error) {
	durations := make([]int64, 0, len(clips))
	for _, c := range clips {
		durations = append(durations, c.DurationMS)
	}
	progress(store.StageNormalize, 10)
	id := "asset-" + challengeID
	path := filepath.Join(m.cfg.AssetsDir(), id, "merged.mp4")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, testsupport.Pattern(1000), 0o644); err != nil {
		return nil, err
	}
	jobID, _ := services.JobIDFromContext(ctx)
	segs := segments.FromDurations(durations)
	asset := &store.MergedAsset{
		ID:              id,
		ChallengeID:     challengeID,
		JobID:           jobID,
		FilePath:        path,
		TotalDurationMS: segs[len(segs)-1].EndMS,
		ByteSize:        1000,
		Preset:          preset,
		Strategy:        "ffmpeg",
		Status:          store.AssetPendingReview,
	}
	if err := m.st.InsertAsset(ctx, asset, segs); err != nil {
		return nil, err
	}
	progress(store.StageFinalize, 100)
	return &merge.Result{Asset: asset, Segments: segs}, nil
}

type client struct {
	t         *testing.T
	base      string
	principal string
	perms     string
	token     string
}

func (c *client) do(method, path string, body []byte, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if c.principal != "" {
		req.Header.Set("X-Principal", c.principal)
	}
	if c.perms != "" {
		req.Header.Set("X-Permissions", c.perms)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*daemon.Daemon, *config.Config, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.QueuePollInterval = 1
	st := testsupport.MustOpenStore(t, cfg)
	prober := testsupport.NewFakeProber()
	probe := testsupport.ProbeResult(4000, 1080, 1920)
	prober.Default = &probe

	d, err := daemon.New(context.Background(), cfg, st, logging.NewNop(),
		daemon.WithProber(prober),
		daemon.WithMerger(&fileMerger{cfg: cfg, st: st}),
		daemon.WithScanner(moderation.AllowAll{}),
		daemon.WithFreeSpace(func(string) (uint64, error) { return 1 << 40, nil }),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, cfg, "http://" + d.Addr()
}

func uploadClip(t *testing.T, c *client, challenge string, slot int) api.Clip {
	t.Helper()
	data := testsupport.Pattern(250)
	req, _ := json.Marshal(api.InitiateUploadRequest{
		ChallengeID: challenge, StatementIndex: slot, TotalSize: 250, ChunkSize: 100, MimeType: "video/mp4",
	})
	resp := c.do(http.MethodPost, "/api/uploads", req, nil)
	expectStatus(t, resp, http.StatusCreated)
	sess := decode[api.UploadSession](t, resp)
	if sess.ChunkCount != 3 || sess.Status != "initiated" {
		t.Fatalf("unexpected session %+v", sess)
	}

	for _, n := range []int{2, 0, 1} {
		end := min((n+1)*100, len(data))
		part := data[n*100 : end]
		digest, err := integrity.Sum(integrity.SHA256, part)
		if err != nil {
			t.Fatalf("Sum: %v", err)
		}
		resp := c.do(http.MethodPut, fmt.Sprintf("/api/uploads/%s/chunks/%d", sess.ID, n), part, map[string]string{"X-Chunk-Hash": digest})
		expectStatus(t, resp, http.StatusOK)
	}

	resp = c.do(http.MethodGet, "/api/uploads/"+sess.ID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	status := decode[api.UploadStatus](t, resp)
	if status.Progress.ReceivedCount != 3 || len(status.Missing) != 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	resp = c.do(http.MethodPost, "/api/uploads/"+sess.ID+"/complete", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	return decode[api.Clip](t, resp)
}

func TestUploadMergeAndStream(t *testing.T) {
	_, _, base := startDaemon(t)
	c := &client{t: t, base: base, principal: "alice"}

	var clips []api.Clip
	for slot := 0; slot < 3; slot++ {
		clips = append(clips, uploadClip(t, c, "ch-1", slot))
	}
	if clips[2].StatementIndex != 2 || clips[2].DurationMS != 4000 {
		t.Fatalf("unexpected clip %+v", clips[2])
	}

	resp := c.do(http.MethodGet, "/api/clips/"+clips[0].ID, nil, map[string]string{"Range": "bytes=0-9"})
	expectStatus(t, resp, http.StatusPartialContent)
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-9/250" {
		t.Fatalf("unexpected clip Content-Range %q", got)
	}

	var job api.MergeJob
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp := c.do(http.MethodGet, "/api/challenges/ch-1/jobs", nil, nil)
		expectStatus(t, resp, http.StatusOK)
		list := decode[api.JobListResponse](t, resp)
		if len(list.Jobs) == 1 && list.Jobs[0].Status == "succeeded" {
			job = list.Jobs[0]
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if job.AssetID == "" {
		t.Fatal("merge job did not succeed in time")
	}

	resp = c.do(http.MethodGet, "/api/jobs/"+job.ID, nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[api.MergeJob](t, resp); got.Percent != 100 || got.Stage != "done" {
		t.Fatalf("unexpected job %+v", got)
	}

	resp = c.do(http.MethodGet, "/api/assets/"+job.AssetID, nil, map[string]string{"Range": "bytes=0-99"})
	expectStatus(t, resp, http.StatusPartialContent)
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, testsupport.Pattern(1000)[:100]) {
		t.Fatal("partial body mismatch")
	}

	resp = c.do(http.MethodGet, "/api/assets/"+job.AssetID, nil, map[string]string{"Range": "bytes=2000-"})
	expectStatus(t, resp, http.StatusRequestedRangeNotSatisfiable)
	if got := resp.Header.Get("Content-Range"); got != "bytes */1000" {
		t.Fatalf("unexpected 416 Content-Range %q", got)
	}
	if e := decode[api.ErrorResponse](t, resp); e.Error != "range_not_satisfiable" {
		t.Fatalf("unexpected error body %+v", e)
	}

	resp = c.do(http.MethodGet, "/api/assets/"+job.AssetID+"/segments", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	segs := decode[api.SegmentsResponse](t, resp)
	want := []api.Segment{
		{StatementIndex: 0, StartMS: 0, EndMS: 4000, DurationMS: 4000},
		{StatementIndex: 1, StartMS: 4000, EndMS: 8000, DurationMS: 4000},
		{StatementIndex: 2, StartMS: 8000, EndMS: 12000, DurationMS: 4000},
	}
	if len(segs.Segments) != len(want) {
		t.Fatalf("unexpected segments %+v", segs)
	}
	for i := range want {
		if segs.Segments[i] != want[i] {
			t.Fatalf("segment %d = %+v, want %+v", i, segs.Segments[i], want[i])
		}
	}

	resp = c.do(http.MethodGet, "/api/assets/"+job.AssetID+"/info", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if info := decode[api.MergedAsset](t, resp); info.Status != "visible" || info.Strategy != "ffmpeg" {
		t.Fatalf("unexpected asset info %+v", info)
	}
}

func TestRequestsWithoutPrincipalAreRejected(t *testing.T) {
	_, _, base := startDaemon(t)
	c := &client{t: t, base: base}
	resp := c.do(http.MethodGet, "/api/uploads/anything", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = c.do(http.MethodGet, "/api/health", nil, nil)
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("health must not require a principal")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestBearerTokenRequiredWhenConfigured(t *testing.T) {
	_, _, base := startDaemon(t, testsupport.WithAPIToken("secret"))
	c := &client{t: t, base: base, principal: "alice"}
	resp := c.do(http.MethodGet, "/api/jobs/missing", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	c.token = "secret"
	resp = c.do(http.MethodGet, "/api/jobs/missing", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestErrorResponsesCarryKindWithoutPaths(t *testing.T) {
	_, cfg, base := startDaemon(t)
	c := &client{t: t, base: base, principal: "alice"}

	resp := c.do(http.MethodPost, "/api/uploads", []byte(`{"challengeId":"c","statementIndex":5,"totalSize":10,"chunkSize":10,"mimeType":"video/mp4"}`), nil)
	expectStatus(t, resp, http.StatusBadRequest)
	if e := decode[api.ErrorResponse](t, resp); e.Error != "validation" {
		t.Fatalf("unexpected error %+v", e)
	}

	resp = c.do(http.MethodPost, "/api/challenges/ch-9/merge", nil, nil)
	expectStatus(t, resp, http.StatusConflict)
	if e := decode[api.ErrorResponse](t, resp); e.Error != "incomplete_merge_set" {
		t.Fatalf("unexpected error %+v", e)
	}

	resp = c.do(http.MethodGet, "/api/assets/nope", nil, nil)
	expectStatus(t, resp, http.StatusNotFound)
	body, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(body), cfg.Paths.DataDir) {
		t.Fatalf("error leaks data dir: %s", body)
	}

	resp = c.do(http.MethodPut, "/api/uploads/nope/chunks/x", []byte("x"), nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSecondExclusiveDaemonRefused(t *testing.T) {
	d, cfg, _ := startDaemon(t)
	if !d.Status(context.Background()).Running {
		t.Fatal("expected running daemon")
	}
	st := testsupport.MustOpenStore(t, cfg)
	other, err := daemon.New(context.Background(), cfg, st, logging.NewNop(),
		daemon.WithMerger(&fileMerger{cfg: cfg, st: st}),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	if err := other.Start(context.Background()); err == nil {
		t.Fatal("expected second daemon to be refused")
	}
}

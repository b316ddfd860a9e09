package segments_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"clipstitch/internal/logging"
	"clipstitch/internal/segments"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
	"clipstitch/internal/testsupport"
)

var want = []segments.Segment{
	{StatementIndex: 0, StartMS: 0, EndMS: 5000, DurationMS: 5000},
	{StatementIndex: 1, StartMS: 5000, EndMS: 8000, DurationMS: 3000},
	{StatementIndex: 2, StartMS: 8000, EndMS: 12000, DurationMS: 4000},
}

func TestFromDurations(t *testing.T) {
	got := segments.FromDurations([]int64{5000, 3000, 4000})
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected segments %#v", got)
	}
	if err := segments.Validate(got, 12000); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFromChapters(t *testing.T) {
	probe := testsupport.WithChapters(testsupport.ProbeResult(12000, 1080, 1920), 5000, 3000, 4000)
	got, ok := segments.FromChapters(probe.Chapters, 3, 12000)
	if !ok || !slices.Equal(got, want) {
		t.Fatalf("unexpected segments %#v ok=%v", got, ok)
	}

	// The compressed container may end a few ms later than the last chapter.
	got, ok = segments.FromChapters(probe.Chapters, 3, 12033)
	if !ok || got[2].EndMS != 12033 || got[2].DurationMS != 4033 {
		t.Fatalf("expected last segment closed at total, got %#v", got)
	}

	if _, ok := segments.FromChapters(probe.Chapters[:2], 3, 12000); ok {
		t.Fatal("expected missing chapter to be rejected")
	}
	if _, ok := segments.FromChapters(probe.Chapters, 3, 7000); ok {
		t.Fatal("expected chapters beyond total to be rejected")
	}
}

func TestScaleKeepsInvariants(t *testing.T) {
	got, err := segments.Scale(want, 12480)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if got[0].EndMS != 5200 || got[1].EndMS != 8320 || got[2].EndMS != 12480 {
		t.Fatalf("unexpected scaled segments %#v", got)
	}
	if _, err := segments.Scale(nil, 10); err == nil {
		t.Fatal("expected error scaling nothing")
	}
}

func TestValidateRejectsBrokenSegments(t *testing.T) {
	gap := slices.Clone(want)
	gap[1].StartMS = 5001
	gap[1].DurationMS = 2999
	short := slices.Clone(want)
	zero := []segments.Segment{
		{StatementIndex: 0, StartMS: 0, EndMS: 0, DurationMS: 0},
		{StatementIndex: 1, StartMS: 0, EndMS: 10, DurationMS: 10},
		{StatementIndex: 2, StartMS: 10, EndMS: 20, DurationMS: 10},
	}
	swapped := []segments.Segment{want[1], want[0], want[2]}
	cases := []struct {
		name  string
		segs  []segments.Segment
		total int64
	}{
		{"gap", gap, 12000},
		{"wrong total", short, 12001},
		{"zero duration", zero, 20},
		{"order", swapped, 12000},
		{"too few", want[:2], 8000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := segments.Validate(tc.segs, tc.total); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSidecarRoundTripAndVersioning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, segments.SidecarName)
	if err := segments.WriteSidecar(path, "a1", want); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}
	sc, err := segments.ReadSidecar(path)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if sc.SchemaVersion != 1 || sc.AssetID != "a1" || !slices.Equal(sc.Segments, want) {
		t.Fatalf("unexpected sidecar %#v", sc)
	}

	additive := `{"schema_version":1,"asset_id":"a1","codec":"h264","segments":[{"statement_index":0,"start_ms":0,"end_ms":10,"duration_ms":10,"keyframe_ms":0}]}`
	sc, err = segments.DecodeSidecar([]byte(additive))
	if err != nil || len(sc.Segments) != 1 {
		t.Fatalf("unknown fields must be ignored: %#v %v", sc, err)
	}

	for _, body := range []string{`{"schema_version":2,"segments":[]}`, `{"asset_id":"a1"}`, `{"schema_version":0}`} {
		if _, err := segments.DecodeSidecar([]byte(body)); !errors.Is(err, segments.ErrUnsupportedSchema) {
			t.Fatalf("expected unsupported schema for %s, got %v", body, err)
		}
	}
}

func TestLookupReadsStoreAndRecoversFromSidecar(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	idx := segments.NewIndex(st, cfg.AssetsDir(), logging.NewNop())
	ctx := context.Background()

	if _, err := idx.Lookup(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	withRows := &store.MergedAsset{ID: "a1", ChallengeID: "c1", FilePath: "x", TotalDurationMS: 12000, ByteSize: 1, Preset: "medium", Strategy: "ffmpeg"}
	if err := st.InsertAsset(ctx, withRows, want); err != nil {
		t.Fatalf("InsertAsset: %v", err)
	}
	got, err := idx.Lookup(ctx, "a1")
	if err != nil || !slices.Equal(got, want) {
		t.Fatalf("Lookup: %#v %v", got, err)
	}

	bare := &store.MergedAsset{ID: "a2", ChallengeID: "c1", FilePath: "x", TotalDurationMS: 12000, ByteSize: 1, Preset: "medium", Strategy: "ffmpeg"}
	if err := st.InsertAsset(ctx, bare, nil); err != nil {
		t.Fatalf("InsertAsset: %v", err)
	}
	if _, err := idx.Lookup(ctx, "a2"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found without rows or sidecar, got %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.SidecarPath("a2")), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := segments.WriteSidecar(idx.SidecarPath("a2"), "a2", want); err != nil {
		t.Fatalf("WriteSidecar: %v", err)
	}
	got, err = idx.Lookup(ctx, "a2")
	if err != nil || !slices.Equal(got, want) {
		t.Fatalf("recovered Lookup: %#v %v", got, err)
	}
	rows, _ := st.Segments(ctx, "a2")
	if len(rows) != 3 {
		t.Fatalf("expected rows restored, got %d", len(rows))
	}
}

package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"clipstitch/internal/logging"
)

type recordedCall struct {
	name string
	args []string
}

func fakeRunner(calls *[]recordedCall, progress []string, fail error) Runner {
	return func(_ context.Context, name string, args []string, onStdout func(string)) error {
		*calls = append(*calls, recordedCall{name: name, args: append([]string(nil), args...)})
		if fail != nil {
			return fail
		}
		for _, line := range progress {
			onStdout(line)
		}
		out := args[len(args)-1]
		return os.WriteFile(out, []byte("media"), 0o644)
	}
}

func argValue(args []string, flag string) string {
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		return ""
	}
	return args[idx+1]
}

func TestNormalizeBuildsFilterAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	var calls []recordedCall
	tc := New("ffmpeg", logging.NewNop()).WithRunner(fakeRunner(&calls, []string{"out_time_us=2500000", "progress=continue", "progress=end"}, nil))

	var got []float64
	err := tc.Normalize(context.Background(), NormalizeRequest{
		Input:      "/in/clip.mov",
		Output:     filepath.Join(dir, "norm.mp4"),
		HasAudio:   true,
		DurationMS: 5000,
	}, Target{Width: 1080, Height: 1920, FPS: 30}, func(p float64) { got = append(got, p) })
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	vf := argValue(calls[0].args, "-vf")
	if !strings.Contains(vf, "scale=1080:1920") || !strings.Contains(vf, "fps=30") || !strings.Contains(vf, "format=yuv420p") {
		t.Fatalf("unexpected filter %q", vf)
	}
	if argValue(calls[0].args, "-ar") != "48000" {
		t.Fatalf("expected 48k audio, got %v", calls[0].args)
	}
	if len(got) != 2 || got[0] != 50 || got[1] != 100 {
		t.Fatalf("unexpected progress %v", got)
	}
}

func TestNormalizeAddsSilentTrackWithoutAudio(t *testing.T) {
	dir := t.TempDir()
	var calls []recordedCall
	tc := New("", nil).WithRunner(fakeRunner(&calls, nil, nil))
	err := tc.Normalize(context.Background(), NormalizeRequest{Input: "/in.mp4", Output: filepath.Join(dir, "n.mp4")}, Target{Width: 720, Height: 1280, FPS: 30}, nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !slices.Contains(calls[0].args, "anullsrc=channel_layout=stereo:sample_rate=48000") {
		t.Fatalf("expected silent audio source, got %v", calls[0].args)
	}
	if calls[0].name != "ffmpeg" {
		t.Fatalf("expected default binary, got %q", calls[0].name)
	}
}

func TestConcatWritesChaptersAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	var listBody, metaBody string
	runner := func(_ context.Context, _ string, args []string, _ func(string)) error {
		var inputs []string
		for i, arg := range args {
			if arg == "-i" && i+1 < len(args) {
				inputs = append(inputs, args[i+1])
			}
		}
		list, _ := os.ReadFile(inputs[0])
		meta, _ := os.ReadFile(inputs[1])
		listBody, metaBody = string(list), string(meta)
		return os.WriteFile(args[len(args)-1], []byte("x"), 0o644)
	}
	tc := New("ffmpeg", nil).WithRunner(runner)
	inputs := []ConcatInput{
		{Path: filepath.Join(dir, "n0.mp4"), Title: "statement-0", DurationMS: 5000},
		{Path: filepath.Join(dir, "n1.mp4"), Title: "statement-1", DurationMS: 3000},
		{Path: filepath.Join(dir, "n2.mp4"), Title: "statement-2", DurationMS: 4000},
	}
	if err := tc.Concat(context.Background(), inputs, filepath.Join(dir, "concat.mp4"), nil); err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if strings.Count(listBody, "file '") != 3 {
		t.Fatalf("unexpected concat list %q", listBody)
	}
	if !strings.Contains(metaBody, "START=5000\nEND=8000\ntitle=statement-1") {
		t.Fatalf("unexpected chapter metadata %q", metaBody)
	}
	if _, err := os.Stat(filepath.Join(dir, "concat.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected concat list removed, got %v", err)
	}
}

func TestCompressUsesPresetAndRemovesOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(out, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	var calls []recordedCall
	tc := New("ffmpeg", nil).WithRunner(fakeRunner(&calls, nil, errors.New("encoder crashed")))
	preset, _ := LookupPreset("low")
	err := tc.Compress(context.Background(), "/in.mp4", out, preset, 12000, nil)
	if err == nil || !strings.Contains(err.Error(), "encoder crashed") {
		t.Fatalf("expected failure, got %v", err)
	}
	if argValue(calls[0].args, "-crf") != "28" || argValue(calls[0].args, "-maxrate") != "2M" {
		t.Fatalf("unexpected args %v", calls[0].args)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected partial output removed, got %v", err)
	}
}

func TestChapterMetadataEscapesTitles(t *testing.T) {
	got := ChapterMetadata([]ConcatInput{{Title: "a=b;c", DurationMS: 10}})
	if !strings.Contains(got, `title=a\=b\;c`) {
		t.Fatalf("expected escaped title, got %q", got)
	}
}

func TestPresetLookup(t *testing.T) {
	if _, ok := LookupPreset("MEDIUM"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	if _, ok := LookupPreset("ultra"); ok {
		t.Fatal("unexpected preset")
	}
	if names := PresetNames(); !slices.Equal(names, []string{"high", "low", "medium"}) {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestProgressParserIsMonotonic(t *testing.T) {
	var got []float64
	p := NewProgressParser(1000, func(v float64) { got = append(got, v) })
	for _, line := range []string{"out_time_us=500000", "out_time_us=400000", "bitrate=1", "out_time_ms=2000000", "progress=end"} {
		p.Line(line)
	}
	if len(got) != 3 || got[0] != 50 || got[1] != 99.9 || got[2] != 100 {
		t.Fatalf("unexpected progress %v", got)
	}
}

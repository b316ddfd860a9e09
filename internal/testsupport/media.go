package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"clipstitch/internal/media/ffprobe"
)

// ProbeResult builds an ffprobe result for an H.264/AAC clip.
func ProbeResult(durationMS int64, width, height int) ffprobe.Result {
	seconds := strconv.FormatFloat(float64(durationMS)/1000, 'f', 3, 64)
	return ffprobe.Result{
		Streams: []ffprobe.Stream{
			{Index: 0, CodecName: "h264", CodecType: "video", Width: width, Height: height, PixFmt: "yuv420p", RFrameRate: "30/1", AvgFrameRate: "30/1", Duration: seconds},
			{Index: 1, CodecName: "aac", CodecType: "audio", SampleRate: "48000", Channels: 2, Duration: seconds},
		},
		Format: ffprobe.Format{Duration: seconds, FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
	}
}

// WithChapters returns r with one chapter per duration laid end to end.
func WithChapters(r ffprobe.Result, durationsMS ...int64) ffprobe.Result {
	var start int64
	r.Chapters = nil
	for i, d := range durationsMS {
		end := start + d
		r.Chapters = append(r.Chapters, ffprobe.Chapter{
			ID:        int64(i),
			StartTime: strconv.FormatFloat(float64(start)/1000, 'f', 6, 64),
			EndTime:   strconv.FormatFloat(float64(end)/1000, 'f', 6, 64),
			Tags:      map[string]string{"title": fmt.Sprintf("statement-%d", i)},
		})
		start = end
	}
	return r
}

// FakeProber returns canned results keyed by file base name.
type FakeProber struct {
	mu      sync.Mutex
	results map[string]ffprobe.Result
	errs    map[string]error
	Default *ffprobe.Result
	Calls   []string
}

// NewFakeProber constructs an empty FakeProber.
func NewFakeProber() *FakeProber {
	return &FakeProber{results: map[string]ffprobe.Result{}, errs: map[string]error{}}
}

// Set registers the result returned for files named base.
func (p *FakeProber) Set(base string, r ffprobe.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[base] = r
}

// Fail makes probes of files named base return err.
func (p *FakeProber) Fail(base string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[base] = err
}

// Inspect implements ffprobe.Prober.
func (p *FakeProber) Inspect(_ context.Context, path string) (ffprobe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	base := filepath.Base(path)
	p.Calls = append(p.Calls, base)
	if err, ok := p.errs[base]; ok {
		return ffprobe.Result{}, err
	}
	if r, ok := p.results[base]; ok {
		return r, nil
	}
	if p.Default != nil {
		return *p.Default, nil
	}
	return ffprobe.Result{}, fmt.Errorf("no probe result for %s", base)
}

package ffprobe

import (
	"math"
	"testing"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1080, "height": 1920,
     "pix_fmt": "yuv420p", "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001", "duration": "5.005"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2, "duration": "4.99"}
  ],
  "chapters": [
    {"id": 0, "start_time": "0.000000", "end_time": "5.000000", "tags": {"title": "statement-0"}},
    {"id": 1, "start_time": "5.000000", "end_time": "8.000000", "tags": {"TITLE": "statement-1"}}
  ],
  "format": {"filename": "in.mp4", "nb_streams": 2, "duration": "5.005000", "size": "1000", "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParseExtractsStreamsAndChapters(t *testing.T) {
	result, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	video, ok := result.VideoStream()
	if !ok || video.CodecName != "h264" || video.PixFmt != "yuv420p" {
		t.Fatalf("unexpected video stream %#v", video)
	}
	if rate := video.FrameRate(); math.Abs(rate-29.97) > 0.01 {
		t.Fatalf("unexpected frame rate %v", rate)
	}
	audio, ok := result.AudioStream()
	if !ok || audio.SampleRateHz() != 48000 || audio.Channels != 2 {
		t.Fatalf("unexpected audio stream %#v", audio)
	}
	if result.DurationMS() != 5005 {
		t.Fatalf("unexpected duration %d", result.DurationMS())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size %d", result.SizeBytes())
	}
	if len(result.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(result.Chapters))
	}
	ch := result.Chapters[1]
	if ch.Title() != "statement-1" || ch.StartMS() != 5000 || ch.EndMS() != 8000 {
		t.Fatalf("unexpected chapter %#v", ch)
	}
	if len(result.RawJSON()) == 0 {
		t.Fatal("expected raw payload retained")
	}
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "3.2"}, {CodecType: "audio", Duration: "3.25"}},
		Format:  Format{Duration: "N/A"},
	}
	if result.DurationMS() != 3250 {
		t.Fatalf("expected stream fallback 3250, got %d", result.DurationMS())
	}
}

func TestHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.DurationMS() != 0 {
		t.Fatalf("expected unknown duration, got %d", result.DurationMS())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if (Stream{RFrameRate: "0/0"}).FrameRate() != 0 {
		t.Fatal("expected zero frame rate for 0/0")
	}
	if _, ok := result.VideoStream(); ok {
		t.Fatal("expected no video stream")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clipstitch/internal/logging"
)

// Target is the shared profile every clip is normalized to before concat.
type Target struct {
	Width  int
	Height int
	FPS    int
}

// NormalizeRequest describes one clip re-encode.
type NormalizeRequest struct {
	Input      string
	Output     string
	HasAudio   bool
	DurationMS int64
}

// ConcatInput is one normalized clip joined by Concat.
type ConcatInput struct {
	Path       string
	Title      string
	DurationMS int64
}

// Transcoder runs ffmpeg for the normalize, concat, and compress steps.
type Transcoder struct {
	binary string
	run    Runner
	logger *slog.Logger
}

// New constructs a Transcoder for the given ffmpeg binary.
func New(binary string, logger *slog.Logger) *Transcoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{
		binary: binary,
		run:    ExecRunner,
		logger: logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// WithRunner allows injecting a custom command runner for tests.
func (t *Transcoder) WithRunner(r Runner) *Transcoder {
	if t != nil && r != nil {
		t.run = r
	}
	return t
}

// Binary returns the ffmpeg executable used.
func (t *Transcoder) Binary() string { return t.binary }

// Normalize re-encodes a clip to the target resolution, frame rate, pixel
// format, and a stereo 48 kHz AAC track. Clips without audio get a silent
// track so concat sees identical stream layouts.
func (t *Transcoder) Normalize(ctx context.Context, req NormalizeRequest, target Target, progress func(float64)) error {
	if req.Input == "" || req.Output == "" {
		return errors.New("normalize: input and output are required")
	}
	if target.Width <= 0 || target.Height <= 0 || target.FPS <= 0 {
		return fmt.Errorf("normalize: invalid target %dx%d@%d", target.Width, target.Height, target.FPS)
	}
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		target.Width, target.Height, target.Width, target.Height, target.FPS,
	)
	args := []string{"-y", "-hide_banner", "-nostdin", "-i", req.Input}
	if req.HasAudio {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0", "-af", "aresample=async=1")
	} else {
		args = append(args,
			"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
			"-map", "0:v:0", "-map", "1:a:0", "-shortest",
		)
	}
	args = append(args,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "18",
		"-c:a", "aac", "-ar", "48000", "-ac", "2", "-b:a", "160k",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		req.Output,
	)
	return t.exec(ctx, "normalize", args, req.DurationMS, req.Output, progress)
}

// Concat joins the inputs in order with a stream copy and writes one chapter
// per input titled with its Title, so statement boundaries survive in the
// container. Inputs must share codec parameters.
func (t *Transcoder) Concat(ctx context.Context, inputs []ConcatInput, output string, progress func(float64)) error {
	if len(inputs) == 0 {
		return errors.New("concat: no inputs")
	}
	workDir := filepath.Dir(output)
	listPath := filepath.Join(workDir, "concat.txt")
	metaPath := filepath.Join(workDir, "chapters.ffmeta")
	if err := os.WriteFile(listPath, []byte(ConcatList(inputs)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)
	if err := os.WriteFile(metaPath, []byte(ChapterMetadata(inputs)), 0o644); err != nil {
		return fmt.Errorf("write chapter metadata: %w", err)
	}
	defer os.Remove(metaPath)

	var total int64
	for _, in := range inputs {
		total += in.DurationMS
	}
	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", metaPath,
		"-map", "0", "-map_metadata", "1", "-map_chapters", "1",
		"-c", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		output,
	}
	return t.exec(ctx, "concat", args, total, output, progress)
}

// Compress re-encodes input with the preset, keeping chapters.
func (t *Transcoder) Compress(ctx context.Context, input, output string, preset Preset, durationMS int64, progress func(float64)) error {
	if input == "" || output == "" {
		return errors.New("compress: input and output are required")
	}
	args := []string{
		"-y", "-hide_banner", "-nostdin",
		"-i", input,
		"-map", "0:v:0", "-map", "0:a?", "-map_chapters", "0", "-map_metadata", "0",
		"-c:v", "libx264", "-preset", preset.X264Preset, "-crf", strconv.Itoa(preset.CRF),
		"-maxrate", preset.MaxRate, "-bufsize", preset.BufSize,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", preset.AudioBitrate,
		"-movflags", "+faststart",
		"-progress", "pipe:1", "-nostats",
		output,
	}
	return t.exec(ctx, "compress", args, durationMS, output, progress)
}

func (t *Transcoder) exec(ctx context.Context, op string, args []string, totalMS int64, output string, progress func(float64)) error {
	parser := NewProgressParser(totalMS, progress)
	if t.logger != nil {
		t.logger.Debug("executing ffmpeg",
			logging.String("operation", op),
			logging.String("output", output),
			logging.Int64("duration_ms", totalMS),
		)
	}
	if err := t.run(ctx, t.binary, args, parser.Line); err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("ffmpeg %s: %w", op, err)
	}
	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("ffmpeg %s did not produce output: %w", op, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(output)
		return fmt.Errorf("ffmpeg %s produced empty output", op)
	}
	return nil
}

// ConcatList renders a concat demuxer input list.
func ConcatList(inputs []ConcatInput) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, in := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(in.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// ChapterMetadata renders an FFMETADATA1 document with one chapter per input
// laid end to end using millisecond timebase.
func ChapterMetadata(inputs []ConcatInput) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	var start int64
	for _, in := range inputs {
		end := start + in.DurationMS
		fmt.Fprintf(&b, "[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=%s\n", start, end, escapeMetadata(in.Title))
		start = end
	}
	return b.String()
}

func escapeMetadata(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "=", `\=`, ";", `\;`, "#", `\#`, "\n", `\`+"\n")
	return replacer.Replace(value)
}

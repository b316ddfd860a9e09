package merge

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	"clipstitch/internal/media/ffmpeg"
	"clipstitch/internal/services/drapto"
)

// CompressRequest is the input to one compression attempt.
type CompressRequest struct {
	Input      string
	WorkDir    string
	Preset     ffmpeg.Preset
	DurationMS int64
	Progress   func(percent float64)
}

// Compressor is one ranked compression strategy.
type Compressor interface {
	Name() string
	// Available reports why the strategy cannot run on this host.
	Available() error
	Compress(ctx context.Context, req CompressRequest) (string, error)
}

// CompressionResult tags the output with the strategy that produced it.
type CompressionResult struct {
	Strategy string
	Output   string
}

// FFmpegCompressor applies the preset with the ffmpeg transcoder.
type FFmpegCompressor struct {
	Transcoder Transcoder
	Check      func() error
}

// NewFFmpegCompressor checks for the transcoder's binary on PATH.
func NewFFmpegCompressor(t *ffmpeg.Transcoder) *FFmpegCompressor {
	return &FFmpegCompressor{
		Transcoder: t,
		Check: func() error {
			_, err := exec.LookPath(t.Binary())
			return err
		},
	}
}

// Name implements Compressor.
func (c *FFmpegCompressor) Name() string { return "ffmpeg" }

// Available implements Compressor.
func (c *FFmpegCompressor) Available() error {
	if c.Transcoder == nil {
		return errors.New("no transcoder configured")
	}
	if c.Check != nil {
		return c.Check()
	}
	return nil
}

// Compress implements Compressor.
func (c *FFmpegCompressor) Compress(ctx context.Context, req CompressRequest) (string, error) {
	out := filepath.Join(req.WorkDir, "compressed.mp4")
	if err := c.Transcoder.Compress(ctx, req.Input, out, req.Preset, req.DurationMS, req.Progress); err != nil {
		return "", err
	}
	return out, nil
}

// DraptoCompressor encodes with the Drapto library. Drapto chooses its own
// quality settings, so the preset only labels the result.
type DraptoCompressor struct {
	Client drapto.Client
	Check  func() error
}

// NewDraptoCompressor requires ffmpeg on PATH, which Drapto drives.
func NewDraptoCompressor(client drapto.Client, ffmpegBinary string) *DraptoCompressor {
	return &DraptoCompressor{
		Client: client,
		Check: func() error {
			_, err := exec.LookPath(ffmpegBinary)
			return err
		},
	}
}

// Name implements Compressor.
func (c *DraptoCompressor) Name() string { return "drapto" }

// Available implements Compressor.
func (c *DraptoCompressor) Available() error {
	if c.Client == nil {
		return errors.New("no drapto client configured")
	}
	if c.Check != nil {
		return c.Check()
	}
	return nil
}

// Compress implements Compressor.
func (c *DraptoCompressor) Compress(ctx context.Context, req CompressRequest) (string, error) {
	outDir := filepath.Join(req.WorkDir, "drapto")
	out, err := c.Client.Encode(ctx, req.Input, outDir, req.Progress)
	if err != nil {
		return "", fmt.Errorf("drapto encode: %w", err)
	}
	return out, nil
}

// BuildCompressors returns the configured strategies in rank order.
func BuildCompressors(names []string, t *ffmpeg.Transcoder, client drapto.Client) ([]Compressor, error) {
	out := make([]Compressor, 0, len(names))
	for _, name := range names {
		switch name {
		case "ffmpeg":
			out = append(out, NewFFmpegCompressor(t))
		case "drapto":
			out = append(out, NewDraptoCompressor(client, t.Binary()))
		default:
			return nil, fmt.Errorf("unknown compressor %q", name)
		}
	}
	return out, nil
}

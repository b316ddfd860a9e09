package merge

import (
	"math"
	"strings"

	"clipstitch/internal/media/ffmpeg"
	"clipstitch/internal/store"
)

// matchesTarget reports whether a clip can be concatenated without
// re-encoding.
func matchesTarget(c store.CodecParams, target ffmpeg.Target) bool {
	return strings.EqualFold(c.VideoCodec, "h264") &&
		c.Width == target.Width &&
		c.Height == target.Height &&
		math.Abs(c.FrameRate-float64(target.FPS)) < 0.01 &&
		strings.EqualFold(c.PixFmt, "yuv420p") &&
		strings.EqualFold(c.AudioCodec, "aac") &&
		c.SampleRate == 48000 &&
		c.Channels == 2
}

// stageWeights split overall progress across the pipeline.
var stageWeights = []struct {
	stage  store.JobStage
	weight float64
}{
	{store.StageNormalize, 25},
	{store.StageConcatenate, 10},
	{store.StageCompress, 60},
	{store.StageFinalize, 5},
}

// overallPercent converts a stage-local percent into pipeline percent.
func overallPercent(stage store.JobStage, local float64) float64 {
	var base float64
	for _, sw := range stageWeights {
		if sw.stage == stage {
			local = math.Max(0, math.Min(100, local))
			return math.Round((base+sw.weight*local/100)*10) / 10
		}
		base += sw.weight
	}
	return base
}

package logging

import (
	"math"
	"strings"
)

// ProgressSampler thins a stream of (stage, percent) updates down to the
// ones worth recording: the first update of each stage and the first update
// at or past each step boundary.
type ProgressSampler struct {
	step  float64
	stage string
	next  float64
}

// NewProgressSampler returns a sampler emitting every step percent. A
// non-positive step defaults to 10.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether the update should be recorded. Negative percent
// means unknown; such updates only emit on a stage change. Percent is
// clamped to 100. A nil sampler records everything.
func (s *ProgressSampler) ShouldLog(stage string, percent float64) bool {
	if s == nil {
		return true
	}
	changed := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.stage {
		s.stage = stage
		s.next = 0
		changed = true
	}
	if percent < 0 {
		return changed
	}
	percent = math.Min(percent, 100)
	if percent < s.next {
		return changed
	}
	s.next = (math.Floor(percent/s.step) + 1) * s.step
	return true
}

// Reset forgets the current stage so the next update always emits.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.stage = ""
	s.next = 0
}

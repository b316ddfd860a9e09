package ffmpeg

import (
	"strconv"
	"strings"
)

// ProgressParser converts `-progress` key=value lines into a percentage of a
// known total duration.
type ProgressParser struct {
	totalMS  int64
	onUpdate func(percent float64)
	last     float64
}

// NewProgressParser returns a parser for an output of totalMS milliseconds.
// onUpdate receives monotonically increasing values in [0, 100].
func NewProgressParser(totalMS int64, onUpdate func(percent float64)) *ProgressParser {
	return &ProgressParser{totalMS: totalMS, onUpdate: onUpdate}
}

// Line consumes one line of ffmpeg progress output.
func (p *ProgressParser) Line(line string) {
	if p == nil || p.onUpdate == nil {
		return
	}
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 || p.totalMS <= 0 {
			return
		}
		percent := float64(us) / 1000 / float64(p.totalMS) * 100
		if percent > 99.9 {
			percent = 99.9
		}
		p.emit(percent)
	case "progress":
		if strings.TrimSpace(value) == "end" {
			p.emit(100)
		}
	}
}

func (p *ProgressParser) emit(percent float64) {
	if percent <= p.last {
		return
	}
	p.last = percent
	p.onUpdate(percent)
}

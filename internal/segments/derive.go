package segments

import (
	"fmt"
	"math"

	"clipstitch/internal/media/ffprobe"
	"clipstitch/internal/store"
)

// Segment is one statement's span within a merged asset.
type Segment = store.Segment

// Count is the number of statements in a merged asset.
const Count = 3

// FromDurations lays the durations end to end.
func FromDurations(durations []int64) []Segment {
	out := make([]Segment, 0, len(durations))
	var start int64
	for i, d := range durations {
		out = append(out, Segment{StatementIndex: i, StartMS: start, EndMS: start + d, DurationMS: d})
		start += d
	}
	return out
}

// FromChapters builds segments from chapter start times, closing the last
// segment at totalMS. It reports false when the chapters cannot describe
// want contiguous statements.
func FromChapters(chapters []ffprobe.Chapter, want int, totalMS int64) ([]Segment, bool) {
	if len(chapters) != want || want == 0 || totalMS <= 0 {
		return nil, false
	}
	starts := make([]int64, want)
	for i, ch := range chapters {
		starts[i] = ch.StartMS()
	}
	starts[0] = 0
	out := make([]Segment, 0, want)
	for i := 0; i < want; i++ {
		end := totalMS
		if i+1 < want {
			end = starts[i+1]
		}
		if end <= starts[i] || end > totalMS {
			return nil, false
		}
		out = append(out, Segment{StatementIndex: i, StartMS: starts[i], EndMS: end, DurationMS: end - starts[i]})
	}
	return out, true
}

// Scale maps segments onto a new total duration, preserving each
// boundary's relative position.
func Scale(segs []Segment, totalMS int64) ([]Segment, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("no segments to scale")
	}
	oldTotal := segs[len(segs)-1].EndMS
	if oldTotal <= 0 || totalMS <= 0 {
		return nil, fmt.Errorf("cannot scale %d ms onto %d ms", oldTotal, totalMS)
	}
	ratio := float64(totalMS) / float64(oldTotal)
	out := make([]Segment, len(segs))
	var start int64
	for i, seg := range segs {
		end := int64(math.Round(float64(seg.EndMS) * ratio))
		if i == len(segs)-1 {
			end = totalMS
		}
		out[i] = Segment{StatementIndex: seg.StatementIndex, StartMS: start, EndMS: end, DurationMS: end - start}
		start = end
	}
	return out, Validate(out, totalMS)
}

// Validate checks ordering, contiguity, positive durations, and that the
// last segment ends at totalMS.
func Validate(segs []Segment, totalMS int64) error {
	if len(segs) != Count {
		return fmt.Errorf("expected %d segments, got %d", Count, len(segs))
	}
	var prevEnd int64
	for i, seg := range segs {
		if seg.StatementIndex != i {
			return fmt.Errorf("segment %d has statement index %d", i, seg.StatementIndex)
		}
		if seg.StartMS != prevEnd {
			return fmt.Errorf("segment %d starts at %d, previous ended at %d", i, seg.StartMS, prevEnd)
		}
		if seg.DurationMS <= 0 || seg.EndMS-seg.StartMS != seg.DurationMS {
			return fmt.Errorf("segment %d has invalid duration %d", i, seg.DurationMS)
		}
		prevEnd = seg.EndMS
	}
	if prevEnd != totalMS {
		return fmt.Errorf("last segment ends at %d, asset is %d ms", prevEnd, totalMS)
	}
	return nil
}

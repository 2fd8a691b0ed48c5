// Package planner deterministically partitions a video duration into
// fixed-size chunk windows for the analyzer.
package planner

import (
	"errors"
	"fmt"
	"math"

	"montazh/timecode"
)

// ErrUnsupportedDuration is returned for durations that cannot be chunked.
var ErrUnsupportedDuration = errors.New("unsupported video duration")

const (
	// DefaultChunkSeconds is the analyzer window length. Windows do not
	// overlap: overlap produced duplicate plans the de-duplicator could
	// not cleanly resolve.
	DefaultChunkSeconds = 180

	// minLastWindowSeconds: a trailing window shorter than this is
	// absorbed into the previous one instead of being emitted.
	minLastWindowSeconds = 60
)

// Window is one chunk window [Start, End) in seconds.
type Window struct {
	Index         int
	Start         float64
	End           float64
	StartTimecode string // HH:MM:SS:00, whole-second aligned
	EndTimecode   string // HH:MM:SS:00, whole-second aligned (ceil at the tail)
}

// Duration returns the window length in seconds.
func (w Window) Duration() float64 {
	return w.End - w.Start
}

// Contains reports whether the timestamp falls inside the window.
func (w Window) Contains(ts float64) bool {
	return ts >= w.Start && ts < w.End
}

// Plan partitions duration seconds into windows of chunkSeconds each.
// A video no longer than one chunk yields a single window. A trailing
// window shorter than 60 s is merged into its predecessor.
func Plan(duration float64, chunkSeconds float64) ([]Window, error) {
	if duration < 1 {
		return nil, fmt.Errorf("%w: %.2fs", ErrUnsupportedDuration, duration)
	}
	if chunkSeconds <= 0 {
		chunkSeconds = DefaultChunkSeconds
	}

	var windows []Window
	for start := 0.0; start < duration; start += chunkSeconds {
		end := math.Min(start+chunkSeconds, duration)
		windows = append(windows, Window{
			Index: len(windows),
			Start: start,
			End:   end,
		})
	}

	// Absorb a short tail into the previous window.
	if n := len(windows); n > 1 && windows[n-1].Duration() < minLastWindowSeconds {
		windows[n-2].End = windows[n-1].End
		windows = windows[:n-1]
	}

	for i := range windows {
		windows[i].StartTimecode = timecode.FromWholeSeconds(int(windows[i].Start))
		windows[i].EndTimecode = timecode.FromWholeSeconds(int(math.Ceil(windows[i].End)))
	}

	return windows, nil
}

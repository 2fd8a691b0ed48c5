// Package credits collapses rapid cut sequences (logos, opening and
// closing titles) into single long plans.
package credits

import (
	"log"
	"math"

	"montazh/detector"
	"montazh/timecode"
)

// SegmentType classifies a merged segment.
type SegmentType string

const (
	TypeLogo           SegmentType = "logo"
	TypeOpeningCredits SegmentType = "opening_credits"
	TypeClosingCredits SegmentType = "closing_credits"
	TypeRegular        SegmentType = "regular"
)

// Segment is one merged scene: either a single regular shot or a
// collapsed credits region.
type Segment struct {
	StartTimecode       string      `json:"startTimecode"`
	EndTimecode         string      `json:"endTimecode"`
	StartTimestamp      float64     `json:"startTimestamp"`
	EndTimestamp        float64     `json:"endTimestamp"`
	Type                SegmentType `json:"type"`
	OriginalScenesCount int         `json:"originalScenesCount"`
}

// Config holds the credits heuristics thresholds. They were tuned against
// a feature-film corpus; short-form material may need different values,
// which is why they are configuration rather than constants.
type Config struct {
	OpeningMaxSeconds    float64 // opening search window cap
	OpeningMaxFraction   float64 // opening search window as fraction of duration
	OpeningMinCuts       int     // eligibility: minimum cuts...
	OpeningMinCutsWindow float64 // ...inside this many leading seconds
	OpeningRatio         float64 // recent/previous shot-duration ratio trigger
	OpeningAbsolute      float64 // absolute recent shot-duration trigger, seconds
	OpeningMinElapsed    float64 // do not declare the opening over before this
	LogoMinSeconds       float64 // logo segment ends at the first cut in...
	LogoMaxSeconds       float64 // ...[LogoMinSeconds, LogoMaxSeconds]

	ClosingMainStart       float64 // main region begins after this many seconds
	ClosingMainEndFraction float64 // main region ends at this fraction of duration
	ClosingWindowShots     int     // sliding window size, shots
	ClosingLowRatio        float64 // anomalous when avg < low*mainAvg...
	ClosingHighRatio       float64 // ...or avg > high*mainAvg
	ClosingPrevLowRatio    float64 // preceding window must be within...
	ClosingPrevHighRatio   float64 // ...[prevLow, prevHigh]*mainAvg
	ClosingMinSeconds      float64 // minimum credits interval length
}

// DefaultConfig returns the tuned thresholds.
func DefaultConfig() Config {
	return Config{
		OpeningMaxSeconds:    120,
		OpeningMaxFraction:   0.15,
		OpeningMinCuts:       10,
		OpeningMinCutsWindow: 90,
		OpeningRatio:         1.5,
		OpeningAbsolute:      2.5,
		OpeningMinElapsed:    30,
		LogoMinSeconds:       3,
		LogoMaxSeconds:       8,

		ClosingMainStart:       60,
		ClosingMainEndFraction: 0.9,
		ClosingWindowShots:     5,
		ClosingLowRatio:        0.4,
		ClosingHighRatio:       2.5,
		ClosingPrevLowRatio:    0.5,
		ClosingPrevHighRatio:   2.0,
		ClosingMinSeconds:      15,
	}
}

// Passthrough converts raw boundaries into regular segments without any
// credits analysis. Used when the caller opts out of merging.
func Passthrough(raw []detector.Scene, duration, fps float64) []Segment {
	return assemble(raw, duration, fps, -1, -1, -1, -1)
}

// Merge runs the opening and closing heuristics over the raw boundary
// list and returns the merged, ordered, non-overlapping segment list.
// The sum of OriginalScenesCount over all segments equals len(raw).
func Merge(raw []detector.Scene, duration, fps float64, cfg Config) []Segment {
	if len(raw) == 0 {
		return nil
	}

	cuts := make([]float64, len(raw))
	for i, s := range raw {
		cuts[i] = s.Timestamp
	}

	logoEnd, openingEnd := detectOpening(cuts, duration, cfg)
	closingStart := detectClosing(cuts, duration, cfg)

	if openingEnd > 0 {
		log.Printf("[Credits] Opening credits detected: logo to %.1fs, credits to %.1fs", logoEnd, openingEnd)
	}
	if closingStart > 0 {
		log.Printf("[Credits] Closing credits detected from %.1fs", closingStart)
	}

	return assemble(raw, duration, fps, logoEnd, openingEnd, closingStart, duration)
}

// detectOpening returns (logoEnd, openingEnd) timestamps, or (-1, -1)
// when no opening credits are found.
func detectOpening(cuts []float64, duration float64, cfg Config) (float64, float64) {
	searchEnd := math.Min(cfg.OpeningMaxSeconds, cfg.OpeningMaxFraction*duration)

	// Eligibility: enough cuts in the leading window.
	early := 0
	for _, c := range cuts {
		if c > 0 && c <= cfg.OpeningMinCutsWindow {
			early++
		}
	}
	if early < cfg.OpeningMinCuts {
		return -1, -1
	}

	// Rolling average shot duration over the last five cuts vs the
	// previous five. A sharp slowdown marks the end of the titles.
	// The declared end (the previous boundary) must lie inside the search
	// window; the trigger cut itself may fall just past it.
	openingEnd := -1.0
	for k := 10; k < len(cuts); k++ {
		if cuts[k-1] > searchEnd {
			break
		}
		recent := avgSpan(cuts, k-5, k)
		previous := avgSpan(cuts, k-10, k-5)
		if cuts[k] >= cfg.OpeningMinElapsed &&
			(previous > 0 && recent > cfg.OpeningRatio*previous || recent > cfg.OpeningAbsolute) {
			openingEnd = cuts[k-1]
			break
		}
	}
	if openingEnd <= 0 {
		return -1, -1
	}

	// Split off a short logo segment ending at the first cut in the
	// logo range.
	logoEnd := -1.0
	for _, c := range cuts {
		if c >= cfg.LogoMinSeconds && c <= cfg.LogoMaxSeconds {
			logoEnd = c
			break
		}
		if c > cfg.LogoMaxSeconds {
			break
		}
	}
	if logoEnd >= openingEnd {
		logoEnd = -1
	}
	return logoEnd, openingEnd
}

// detectClosing returns the closing credits start timestamp, or -1.
func detectClosing(cuts []float64, duration float64, cfg Config) float64 {
	w := cfg.ClosingWindowShots
	shots := shotsOf(cuts, duration)
	if len(shots) < 2*w {
		return -1
	}

	// Average shot duration of the main region: after the opening area,
	// before the last tenth.
	mainEnd := cfg.ClosingMainEndFraction * duration
	var mainSum float64
	var mainCount int
	for _, s := range shots {
		if s.start >= cfg.ClosingMainStart && s.end <= mainEnd {
			mainSum += s.end - s.start
			mainCount++
		}
	}
	if mainCount == 0 {
		return -1
	}
	mainAvg := mainSum / float64(mainCount)

	for i := len(shots) - 1; i >= 2*w-1; i-- {
		windowAvg := avgShotSpan(shots, i-w+1, i+1)
		prevAvg := avgShotSpan(shots, i-2*w+1, i-w+1)
		anomalous := windowAvg < cfg.ClosingLowRatio*mainAvg || windowAvg > cfg.ClosingHighRatio*mainAvg
		prevNormal := prevAvg >= cfg.ClosingPrevLowRatio*mainAvg && prevAvg <= cfg.ClosingPrevHighRatio*mainAvg
		if anomalous && prevNormal {
			start := shots[i-w+1].start
			if duration-start >= cfg.ClosingMinSeconds {
				return start
			}
			return -1
		}
	}
	return -1
}

type shot struct {
	start, end float64
}

func shotsOf(cuts []float64, duration float64) []shot {
	var shots []shot
	for i := 0; i < len(cuts); i++ {
		end := duration
		if i+1 < len(cuts) {
			end = cuts[i+1]
		}
		if end <= cuts[i] {
			continue
		}
		shots = append(shots, shot{start: cuts[i], end: end})
	}
	return shots
}

func avgSpan(cuts []float64, from, to int) float64 {
	if to <= from {
		return 0
	}
	var sum float64
	for i := from; i < to; i++ {
		next := cuts[i+1]
		sum += next - cuts[i]
	}
	return sum / float64(to-from)
}

func avgShotSpan(shots []shot, from, to int) float64 {
	if to <= from {
		return 0
	}
	var sum float64
	for i := from; i < to; i++ {
		sum += shots[i].end - shots[i].start
	}
	return sum / float64(to-from)
}

// assemble builds the final segment list. Credits intervals collapse the
// raw cuts they contain; everything else becomes one regular segment per
// shot. Every raw cut is attributed to exactly one segment so that the
// counts sum to len(raw).
func assemble(raw []detector.Scene, duration, fps float64, logoEnd, openingEnd, closingStart, closingEnd float64) []Segment {
	cuts := make([]float64, len(raw))
	for i, s := range raw {
		cuts[i] = s.Timestamp
	}

	type interval struct {
		start, end float64
		typ        SegmentType
	}
	var intervals []interval
	cursor := 0.0
	if logoEnd > 0 {
		intervals = append(intervals, interval{0, logoEnd, TypeLogo})
		cursor = logoEnd
	}
	if openingEnd > cursor {
		intervals = append(intervals, interval{cursor, openingEnd, TypeOpeningCredits})
		cursor = openingEnd
	}

	regularEnd := duration
	if closingStart > cursor {
		regularEnd = closingStart
	}
	// One regular segment per shot in the middle region.
	for i := 0; i < len(cuts); i++ {
		start := cuts[i]
		if start < cursor || start >= regularEnd {
			continue
		}
		end := regularEnd
		if i+1 < len(cuts) && cuts[i+1] < regularEnd {
			end = cuts[i+1]
		}
		if end <= start {
			continue
		}
		intervals = append(intervals, interval{start, end, TypeRegular})
	}
	if closingStart > 0 && closingStart >= cursor {
		intervals = append(intervals, interval{closingStart, closingEnd, TypeClosingCredits})
	}

	segments := make([]Segment, len(intervals))
	for i, iv := range intervals {
		segments[i] = Segment{
			StartTimecode:  timecode.FromSeconds(iv.start, fps),
			EndTimecode:    timecode.FromSeconds(iv.end, fps),
			StartTimestamp: iv.start,
			EndTimestamp:   iv.end,
			Type:           iv.typ,
		}
	}

	// Attribute each raw cut to the segment containing it; the final cut
	// belongs to the last segment.
	for _, c := range cuts {
		idx := len(segments) - 1
		for i, s := range segments {
			if c >= s.StartTimestamp && c < s.EndTimestamp {
				idx = i
				break
			}
		}
		segments[idx].OriginalScenesCount++
	}

	return segments
}

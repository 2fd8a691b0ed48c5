package pipeline

import (
	"fmt"
	"log"
	"math"

	"montazh/database"
	"montazh/timecode"
)

// Pacing buckets: expected plans per minute for slow, medium and fast
// cut material.
var pacingBuckets = []struct {
	name   string
	perMin float64
}{
	{"slow", 10},
	{"medium", 15},
	{"fast", 22},
}

// Validate checks frame continuity between adjacent entries and sizes
// the sheet against the pacing buckets. Everything it finds is a
// warning; a sheet with gaps still ships.
func Validate(entries []database.Entry, fps, durationSeconds float64) []string {
	var warnings []string

	for i := 1; i < len(entries); i++ {
		prevEnd, err1 := timecode.ToFrames(entries[i-1].EndTimecode, fps)
		curStart, err2 := timecode.ToFrames(entries[i].StartTimecode, fps)
		if err1 != nil || err2 != nil {
			warnings = append(warnings, fmt.Sprintf(
				"entries %d/%d: unparseable timecodes (%v, %v)",
				entries[i-1].PlanNumber, entries[i].PlanNumber, err1, err2))
			continue
		}
		delta := curStart - prevEnd
		if delta > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"gap of %d frames between plans %d and %d",
				delta, entries[i-1].PlanNumber, entries[i].PlanNumber))
		} else if delta < 0 {
			warnings = append(warnings, fmt.Sprintf(
				"overlap of %d frames between plans %d and %d",
				-delta, entries[i-1].PlanNumber, entries[i].PlanNumber))
		}
	}

	if durationSeconds > 0 && len(entries) > 0 {
		minutes := durationSeconds / 60
		best := pacingBuckets[0]
		bestDiff := math.Inf(1)
		for _, b := range pacingBuckets {
			diff := math.Abs(float64(len(entries)) - minutes*b.perMin)
			if diff < bestDiff {
				bestDiff = diff
				best = b
			}
		}
		log.Printf("[Validate] %d plans over %.1f min: %s pacing (expected ~%.0f)",
			len(entries), minutes, best.name, minutes*best.perMin)
	}

	return warnings
}

// Package reconcile aligns model-reported scenes with detector
// boundaries for one chunk.
package reconcile

import (
	"log"

	"montazh/credits"
	"montazh/prompt"
	"montazh/timecode"
)

const (
	// A scene may start slightly before its chunk window.
	startSlack = 1.0

	defaultPlanType  = "Ср."
	defaultDialogues = "Музыка"
)

// Reconcile merges parsed scenes with the chunk's detector boundaries.
// When the counts agree the detector timecodes win and the model
// supplies only content (the perfect-match path). Otherwise the model's
// own timecodes are kept, clamped to the chunk window. Missing fields
// are defaulted either way.
func Reconcile(parsed []prompt.Scene, boundaries []credits.Segment, chunkStart, chunkEnd, fps float64) []prompt.Scene {
	var out []prompt.Scene

	if len(boundaries) > 0 && len(parsed) == len(boundaries) {
		log.Printf("[Reconcile] Perfect match: %d scenes align with detector boundaries", len(parsed))
		out = make([]prompt.Scene, len(parsed))
		for i, p := range parsed {
			out[i] = p
			out[i].Start = boundaries[i].StartTimecode
			out[i].End = boundaries[i].EndTimecode
		}
	} else {
		if len(boundaries) > 0 {
			log.Printf("[Reconcile] Count mismatch: %d parsed vs %d boundaries, keeping model timecodes",
				len(parsed), len(boundaries))
		}
		for _, p := range parsed {
			start, err := timecode.ToSeconds(p.Start, fps)
			if err != nil {
				log.Printf("[Reconcile] Dropping scene with bad start timecode %q", p.Start)
				continue
			}
			if start < chunkStart-startSlack || start >= chunkEnd {
				log.Printf("[Reconcile] Dropping scene at %s: outside chunk window [%g, %g)",
					p.Start, chunkStart, chunkEnd)
				continue
			}
			out = append(out, p)
		}
	}

	for i := range out {
		if out[i].PlanType == "" {
			out[i].PlanType = defaultPlanType
		}
		if out[i].Dialogues == "" {
			out[i].Dialogues = defaultDialogues
		}
	}
	return out
}

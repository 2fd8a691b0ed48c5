// Package pipeline orchestrates the full video-to-montage-sheet run:
// planning, splitting, detection, analysis, reconciliation and
// finalization.
package pipeline

import (
	"log"
	"strings"
	"unicode"

	"montazh/database"
	"montazh/timecode"
)

const (
	// Near-duplicate candidates start within this many seconds.
	nearWindowSeconds = 2.0
	// Similarity weights and thresholds.
	descWeight      = 0.7
	dialogueWeight  = 0.3
	tightThreshold  = 0.4 // starts closer than 0.5 s
	looseThreshold  = 0.6
	tightGapSeconds = 0.5
)

// FindDuplicates returns ids of entries to drop: exact repeats of an
// earlier entry's timecode pair, and near-starts whose text overlaps an
// earlier entry too much. The earlier entry always survives.
func FindDuplicates(entries []database.Entry, fps float64) []int64 {
	var drop []int64
	dropped := make(map[int64]bool)

	type keyed struct {
		entry database.Entry
		start float64
	}
	seen := make(map[string]bool)
	var kept []keyed

	for _, e := range entries {
		key := e.StartTimecode + "|" + e.EndTimecode
		if seen[key] {
			drop = append(drop, e.ID)
			dropped[e.ID] = true
			continue
		}

		start, err := timecode.ToSeconds(e.StartTimecode, fps)
		if err != nil {
			// Unparseable timecodes are left for the validator to flag.
			seen[key] = true
			kept = append(kept, keyed{entry: e, start: -1})
			continue
		}

		isDup := false
		for _, k := range kept {
			if k.start < 0 {
				continue
			}
			diff := start - k.start
			if diff < 0 {
				diff = -diff
			}
			if diff >= nearWindowSeconds {
				continue
			}
			sim := descWeight*jaccard(tokens(e.Description), tokens(k.entry.Description)) +
				dialogueWeight*jaccard(tokens(e.Dialogues), tokens(k.entry.Dialogues))
			threshold := looseThreshold
			if diff < tightGapSeconds {
				threshold = tightThreshold
			}
			if sim > threshold {
				log.Printf("[Dedupe] Entry %d near-duplicates %d (sim %.2f, dt %.2fs)",
					e.ID, k.entry.ID, sim, diff)
				isDup = true
				break
			}
		}
		if isDup {
			drop = append(drop, e.ID)
			dropped[e.ID] = true
			continue
		}

		seen[key] = true
		kept = append(kept, keyed{entry: e, start: start})
	}
	return drop
}

// tokens lowercases and splits into letter-only words of length >= 2.
func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		word := strings.ToLower(b.String())
		if len([]rune(word)) >= 2 {
			out[word] = true
		}
		b.Reset()
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

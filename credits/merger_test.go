package credits

import (
	"testing"

	"montazh/detector"
)

// buildCuts synthesizes the scenario from the end-to-end fixtures: dense
// cuts in the first minute (opening titles), ~3 s cuts through the body,
// dense cuts in the final stretch (closing titles).
func buildCuts(t *testing.T) ([]detector.Scene, float64) {
	t.Helper()
	duration := 400.0
	var cuts []float64

	// 22 title cuts at 2 s pacing in the first minute.
	for i := 0; i < 22; i++ {
		cuts = append(cuts, float64(i)*2)
	}
	// Regular 3 s pacing until 380 s.
	for ts := 45.0; ts < 380; ts += 3 {
		cuts = append(cuts, ts)
	}
	// 18 cuts in the last 20 s.
	for i := 0; i < 18; i++ {
		cuts = append(cuts, 380+float64(i)*20.0/18.0)
	}

	return detector.FinalizeCuts(cuts, duration, 24), duration
}

func TestMergeScenario(t *testing.T) {
	raw, duration := buildCuts(t)
	segments := Merge(raw, duration, 24, DefaultConfig())
	if len(segments) == 0 {
		t.Fatal("Merge returned no segments")
	}

	if segments[0].Type != TypeLogo {
		t.Errorf("first segment type = %s, want logo", segments[0].Type)
	}
	if segments[0].EndTimestamp < 3 || segments[0].EndTimestamp > 8 {
		t.Errorf("logo ends at %.2f, want within [3, 8]", segments[0].EndTimestamp)
	}
	if segments[1].Type != TypeOpeningCredits {
		t.Errorf("second segment type = %s, want opening_credits", segments[1].Type)
	}
	if segments[1].EndTimestamp < 45 || segments[1].EndTimestamp > 75 {
		t.Errorf("opening credits end at %.2f, want near 60", segments[1].EndTimestamp)
	}

	last := segments[len(segments)-1]
	if last.Type != TypeClosingCredits {
		t.Errorf("last segment type = %s, want closing_credits", last.Type)
	}
	if last.StartTimestamp < 360 || last.StartTimestamp > 385 {
		t.Errorf("closing credits start at %.2f, want near 380", last.StartTimestamp)
	}
	if last.EndTimestamp != duration {
		t.Errorf("closing credits end at %.2f, want %.2f", last.EndTimestamp, duration)
	}
}

// TestMergeInvariants checks the structural invariants: counts sum to the
// raw boundary count, and segments are ordered and non-overlapping.
func TestMergeInvariants(t *testing.T) {
	raw, duration := buildCuts(t)
	segments := Merge(raw, duration, 24, DefaultConfig())

	sum := 0
	for _, s := range segments {
		sum += s.OriginalScenesCount
	}
	if sum != len(raw) {
		t.Errorf("sum(originalScenesCount) = %d, want %d", sum, len(raw))
	}

	for i := 1; i < len(segments); i++ {
		if segments[i].StartTimestamp < segments[i-1].EndTimestamp {
			t.Errorf("segments %d and %d overlap: %.2f < %.2f",
				i-1, i, segments[i].StartTimestamp, segments[i-1].EndTimestamp)
		}
		if segments[i].StartTimestamp < segments[i-1].StartTimestamp {
			t.Errorf("segments out of order at %d", i)
		}
	}
}

func TestMergeNoCredits(t *testing.T) {
	// Even pacing throughout: no credits should be detected.
	var cuts []float64
	for ts := 0.0; ts < 300; ts += 2 {
		cuts = append(cuts, ts)
	}
	raw := detector.FinalizeCuts(cuts, 300, 24)
	segments := Merge(raw, 300, 24, DefaultConfig())

	for _, s := range segments {
		if s.Type != TypeRegular {
			t.Errorf("unexpected %s segment at %.2f", s.Type, s.StartTimestamp)
		}
	}
	sum := 0
	for _, s := range segments {
		sum += s.OriginalScenesCount
	}
	if sum != len(raw) {
		t.Errorf("sum(originalScenesCount) = %d, want %d", sum, len(raw))
	}
}

func TestMergeShortFilmNotEligible(t *testing.T) {
	// Fewer than 10 cuts in the first 90 s: the opening heuristic must
	// not fire regardless of pacing.
	cuts := []float64{0, 20, 45, 70, 100, 130}
	raw := detector.FinalizeCuts(cuts, 150, 24)
	segments := Merge(raw, 150, 24, DefaultConfig())
	for _, s := range segments {
		if s.Type == TypeOpeningCredits || s.Type == TypeLogo {
			t.Errorf("opening detected on ineligible material: %+v", s)
		}
	}
}

func TestPassthrough(t *testing.T) {
	cuts := []float64{0, 5, 30, 60, 90}
	raw := detector.FinalizeCuts(cuts, 120, 24)
	segments := Passthrough(raw, 120, 24)

	// One regular segment per shot.
	if len(segments) != len(raw)-1 {
		t.Fatalf("Passthrough returned %d segments for %d boundaries", len(segments), len(raw))
	}
	sum := 0
	for _, s := range segments {
		if s.Type != TypeRegular {
			t.Errorf("passthrough segment type = %s", s.Type)
		}
		sum += s.OriginalScenesCount
	}
	if sum != len(raw) {
		t.Errorf("sum(originalScenesCount) = %d, want %d", sum, len(raw))
	}
}

package detector

import (
	"math"
	"testing"
)

func TestSmartMergeDropsFlashes(t *testing.T) {
	// 10.1 and 10.25 imply shots of 0.1 s and 0.15 s; both are noise.
	cuts := []float64{0, 5, 10, 10.1, 10.25, 15}
	merged := smartMerge(cuts)
	want := []float64{0, 5, 10, 15}
	if len(merged) != len(want) {
		t.Fatalf("smartMerge = %v, want %v", merged, want)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("smartMerge = %v, want %v", merged, want)
		}
	}
}

func TestSmartMergeKeepsNormalShots(t *testing.T) {
	cuts := []float64{0, 0.9, 1.8, 2.7}
	merged := smartMerge(cuts)
	if len(merged) != len(cuts) {
		t.Fatalf("smartMerge removed shots longer than 0.8s: %v", merged)
	}
}

func TestFinalizeCutsBoundaries(t *testing.T) {
	// First cut at 3 s: a zero boundary must be prepended. Last cut at
	// 110 s of a 120 s video: a closing boundary at D must be appended.
	scenes := FinalizeCuts([]float64{3, 30, 110}, 120, 24)
	if scenes[0].Timestamp != 0 {
		t.Errorf("expected leading boundary at 0, got %g", scenes[0].Timestamp)
	}
	if scenes[len(scenes)-1].Timestamp != 120 {
		t.Errorf("expected closing boundary at 120, got %g", scenes[len(scenes)-1].Timestamp)
	}
	if scenes[0].Timecode != "00:00:00:00" {
		t.Errorf("leading timecode = %s", scenes[0].Timecode)
	}
	if scenes[len(scenes)-1].Timecode != "00:02:00:00" {
		t.Errorf("closing timecode = %s", scenes[len(scenes)-1].Timecode)
	}
}

func TestFinalizeCutsRespectsExistingBoundaries(t *testing.T) {
	// A cut within 0.5 s of the start counts as the zero boundary, and a
	// cut within 2 s of the end counts as the closing boundary.
	scenes := FinalizeCuts([]float64{0.4, 30, 119}, 120, 24)
	if scenes[0].Timestamp != 0.4 {
		t.Errorf("unexpected prepended boundary: %v", scenes)
	}
	if scenes[len(scenes)-1].Timestamp != 119 {
		t.Errorf("unexpected appended boundary: %v", scenes)
	}
}

func TestFinalizeCutsEmpty(t *testing.T) {
	scenes := FinalizeCuts(nil, 60, 24)
	if len(scenes) != 2 {
		t.Fatalf("expected synthetic [0, D] boundaries, got %v", scenes)
	}
	if scenes[0].Timestamp != 0 || scenes[1].Timestamp != 60 {
		t.Errorf("boundaries = %v", scenes)
	}
}

func TestParseFpsFraction(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"24/1", 24},
		{"25/1", 25},
		{"24000/1001", 23.976023976023978},
		{"30", 30},
	}
	for _, tt := range tests {
		got, err := ParseFpsFraction(tt.in)
		if err != nil {
			t.Fatalf("ParseFpsFraction(%q): %v", tt.in, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseFpsFraction(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "abc", "24/0", "-5"} {
		if _, err := ParseFpsFraction(in); err == nil {
			t.Errorf("ParseFpsFraction(%q) expected error", in)
		}
	}
}

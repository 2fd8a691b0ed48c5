package timecode

import (
	"errors"
	"fmt"
	"testing"
)

func TestToSeconds(t *testing.T) {
	tests := []struct {
		tc   string
		fps  float64
		want float64
	}{
		{"00:00:00:00", 24, 0},
		{"00:00:01:00", 24, 1},
		{"00:00:00:12", 24, 0.5},
		{"00:03:00:00", 24, 180},
		{"01:00:00:00", 25, 3600},
		{"00:02:00:00", 24, 120},
		{"00:00:05:06", 24, 5.25},
	}

	for _, tt := range tests {
		got, err := ToSeconds(tt.tc, tt.fps)
		if err != nil {
			t.Fatalf("ToSeconds(%q, %g) returned error: %v", tt.tc, tt.fps, err)
		}
		if got != tt.want {
			t.Errorf("ToSeconds(%q, %g) = %g, want %g", tt.tc, tt.fps, got, tt.want)
		}
	}
}

func TestInvalidTimecode(t *testing.T) {
	invalid := []string{
		"",
		"00:00:00",
		"0:00:00:00",
		"00:60:00:00",
		"00:00:60:00",
		"00:00:00:24", // frames must be < fps at 24
		"aa:bb:cc:dd",
		"00-00-00-00",
	}

	for _, tc := range invalid {
		if _, err := ToSeconds(tc, 24); !errors.Is(err, ErrInvalidTimecode) {
			t.Errorf("ToSeconds(%q) error = %v, want ErrInvalidTimecode", tc, err)
		}
		if _, err := ToFrames(tc, 24); !errors.Is(err, ErrInvalidTimecode) {
			t.Errorf("ToFrames(%q) error = %v, want ErrInvalidTimecode", tc, err)
		}
	}
}

// TestFrameRoundTrip checks that FromFrames(ToFrames(t)) == t for every
// valid timecode in a dense grid, at several frame rates.
func TestFrameRoundTrip(t *testing.T) {
	for _, fps := range []float64{24, 25, 30} {
		base := int(fps)
		for h := 0; h <= 2; h++ {
			for m := 0; m < 60; m += 7 {
				for s := 0; s < 60; s += 11 {
					for f := 0; f < base; f++ {
						tc := fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, f)
						frames, err := ToFrames(tc, fps)
						if err != nil {
							t.Fatalf("ToFrames(%q, %g): %v", tc, fps, err)
						}
						if got := FromFrames(frames, fps); got != tc {
							t.Fatalf("round trip at %g fps: %q -> %d -> %q", fps, tc, frames, got)
						}
					}
				}
			}
		}
	}
}

// TestSecondsRoundTrip checks that FromSeconds(ToSeconds(t)) == t: frame
// rounding must be exact for frame-aligned inputs.
func TestSecondsRoundTrip(t *testing.T) {
	for _, fps := range []float64{24, 25} {
		base := int(fps)
		for s := 0; s < 200; s += 13 {
			for f := 0; f < base; f += 5 {
				tc := fmt.Sprintf("%02d:%02d:%02d:%02d", s/3600, (s%3600)/60, s%60, f)
				secs, err := ToSeconds(tc, fps)
				if err != nil {
					t.Fatalf("ToSeconds(%q): %v", tc, err)
				}
				if got := FromSeconds(secs, fps); got != tc {
					t.Errorf("seconds round trip at %g fps: %q -> %g -> %q", fps, tc, secs, got)
				}
			}
		}
	}
}

func TestFromSecondsRounding(t *testing.T) {
	// 0.99 s at 24 fps is frame 23.76, which rounds up and carries into
	// the next whole second.
	if got := FromSeconds(0.99, 24); got != "00:00:01:00" {
		t.Errorf("FromSeconds(0.99, 24) = %q, want 00:00:01:00", got)
	}
	if got := FromSeconds(180, 24); got != "00:03:00:00" {
		t.Errorf("FromSeconds(180, 24) = %q, want 00:03:00:00", got)
	}
	// 23.976 fps rounds to a 24-frame base.
	if got := FromSeconds(1.0, 23.976); got != "00:00:01:00" {
		t.Errorf("FromSeconds(1.0, 23.976) = %q, want 00:00:01:00", got)
	}
}

func TestFromWholeSeconds(t *testing.T) {
	if got := FromWholeSeconds(0); got != "00:00:00:00" {
		t.Errorf("FromWholeSeconds(0) = %q", got)
	}
	if got := FromWholeSeconds(180); got != "00:03:00:00" {
		t.Errorf("FromWholeSeconds(180) = %q", got)
	}
	if got := FromWholeSeconds(3725); got != "01:02:05:00" {
		t.Errorf("FromWholeSeconds(3725) = %q", got)
	}
}

func TestFramesBetween(t *testing.T) {
	got, err := FramesBetween("00:00:01:00", "00:00:02:12", 24)
	if err != nil {
		t.Fatalf("FramesBetween: %v", err)
	}
	if got != 36 {
		t.Errorf("FramesBetween = %d, want 36", got)
	}

	// Negative span is allowed; overlap detection depends on it.
	got, err = FramesBetween("00:00:02:00", "00:00:01:00", 24)
	if err != nil {
		t.Fatalf("FramesBetween: %v", err)
	}
	if got != -24 {
		t.Errorf("FramesBetween = %d, want -24", got)
	}
}

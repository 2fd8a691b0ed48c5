// Package timecode converts between HH:MM:SS:FF timecodes and
// seconds/frames at a per-video frame rate.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// ErrInvalidTimecode is returned when a timecode string cannot be parsed.
var ErrInvalidTimecode = errors.New("invalid timecode")

var timecodePattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}):(\d{2})$`)

// fpsInt rounds a probed frame rate (e.g. 23.976) to the integer frame
// base that FF counts modulo.
func fpsInt(fps float64) int {
	n := int(math.Round(fps))
	if n < 1 {
		n = 1
	}
	return n
}

// ToSeconds parses an HH:MM:SS:FF timecode into seconds at the given fps.
func ToSeconds(tc string, fps float64) (float64, error) {
	h, m, s, f, err := split(tc, fps)
	if err != nil {
		return 0, err
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(f)/float64(fpsInt(fps)), nil
}

// FromSeconds formats seconds as HH:MM:SS:FF, rounding to the nearest
// whole frame and carrying frames into seconds.
func FromSeconds(seconds float64, fps float64) string {
	base := fpsInt(fps)
	totalFrames := int(math.Round(seconds * float64(base)))
	f := ((totalFrames % base) + base) % base
	totalSeconds := (totalFrames - f) / base
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, f)
}

// FromWholeSeconds formats a whole-second boundary as HH:MM:SS:00.
// Chunk boundaries are always emitted at whole seconds.
func FromWholeSeconds(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d:00", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ToFrames converts a timecode to an absolute frame count at fps.
func ToFrames(tc string, fps float64) (int, error) {
	h, m, s, f, err := split(tc, fps)
	if err != nil {
		return 0, err
	}
	base := fpsInt(fps)
	return ((h*3600+m*60+s)*base + f), nil
}

// FromFrames converts an absolute frame count back to HH:MM:SS:FF.
func FromFrames(frames int, fps float64) string {
	base := fpsInt(fps)
	f := ((frames % base) + base) % base
	totalSeconds := (frames - f) / base
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, f)
}

// FramesBetween returns endTc - startTc in frames at fps.
func FramesBetween(startTc, endTc string, fps float64) (int, error) {
	start, err := ToFrames(startTc, fps)
	if err != nil {
		return 0, err
	}
	end, err := ToFrames(endTc, fps)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}

func split(tc string, fps float64) (h, m, s, f int, err error) {
	match := timecodePattern.FindStringSubmatch(tc)
	if match == nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, tc)
	}
	h, _ = strconv.Atoi(match[1])
	m, _ = strconv.Atoi(match[2])
	s, _ = strconv.Atoi(match[3])
	f, _ = strconv.Atoi(match[4])
	if m > 59 || s > 59 || f >= fpsInt(fps) {
		return 0, 0, 0, 0, fmt.Errorf("%w: %q at %g fps", ErrInvalidTimecode, tc, fps)
	}
	return h, m, s, f, nil
}

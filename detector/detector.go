// Package detector wraps the external scene-detection tool and produces
// raw shot boundaries for a video file.
package detector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"montazh/timecode"
)

// ErrDetectorUnavailable is returned when the scene-detection tool cannot
// be located on this host.
var ErrDetectorUnavailable = errors.New("scene detection tool unavailable")

// Scene is a single detected shot boundary (cut point).
type Scene struct {
	Timestamp float64 `json:"timestamp"`
	Timecode  string  `json:"timecode"`
}

// Options control the external detector run.
type Options struct {
	AdaptiveThreshold float64 // adaptive detector threshold
	MinSceneDuration  float64 // seconds
	MaxScenes         int
}

// DefaultOptions returns the detector parameters tuned for feature film
// material.
func DefaultOptions() Options {
	return Options{
		AdaptiveThreshold: 1.8,
		MinSceneDuration:  0.25,
		MaxScenes:         5000,
	}
}

// ShotDetector produces cut points and probes stream metadata. The
// pipeline depends on this interface so tests can feed canned boundaries.
type ShotDetector interface {
	Detect(ctx context.Context, videoPath string, duration, fps float64) ([]Scene, error)
	ProbeFps(ctx context.Context, videoPath string) (float64, error)
}

// SceneDetect runs the PySceneDetect CLI. The adaptive engine is
// preferred; content detection is the fallback when adaptive fails.
type SceneDetect struct {
	opts   Options
	binary string
}

// NewSceneDetect locates the scenedetect binary. Returns
// ErrDetectorUnavailable when it is not installed.
func NewSceneDetect(opts Options) (*SceneDetect, error) {
	binary, err := exec.LookPath("scenedetect")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
	}
	return &SceneDetect{opts: opts, binary: binary}, nil
}

// Detect runs the external tool and returns sorted cut points, smart-merge
// cleaned, with guaranteed boundaries at 0 and at the video end.
func (d *SceneDetect) Detect(ctx context.Context, videoPath string, duration, fps float64) ([]Scene, error) {
	outDir, err := os.MkdirTemp("", "scenedetect")
	if err != nil {
		return nil, fmt.Errorf("failed to create detector output dir: %v", err)
	}
	defer os.RemoveAll(outDir)

	cuts, err := d.run(ctx, videoPath, outDir, "detect-adaptive",
		"--threshold", strconv.FormatFloat(d.opts.AdaptiveThreshold, 'f', -1, 64))
	if err != nil {
		log.Printf("[Detector] Adaptive detection failed (%v), falling back to content detection", err)
		cuts, err = d.run(ctx, videoPath, outDir, "detect-content")
		if err != nil {
			return nil, fmt.Errorf("scene detection failed: %v", err)
		}
	}

	if d.opts.MaxScenes > 0 && len(cuts) > d.opts.MaxScenes {
		cuts = cuts[:d.opts.MaxScenes]
	}

	return FinalizeCuts(cuts, duration, fps), nil
}

// run executes one scenedetect invocation and parses the scene list CSV.
func (d *SceneDetect) run(ctx context.Context, videoPath, outDir string, detectArgs ...string) ([]float64, error) {
	args := []string{
		"--input", videoPath,
		"--output", outDir,
		"--min-scene-len", fmt.Sprintf("%.2fs", d.opts.MinSceneDuration),
	}
	args = append(args, detectArgs...)
	args = append(args, "list-scenes", "--quiet")

	cmd := exec.CommandContext(ctx, d.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("scenedetect error: %v\nOutput: %s", err, string(output))
	}

	csvPath, err := findSceneList(outDir)
	if err != nil {
		return nil, err
	}
	return parseSceneList(csvPath)
}

func findSceneList(outDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "*-Scenes.csv"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("scenedetect produced no scene list in %s", outDir)
	}
	return matches[0], nil
}

// parseSceneList reads the scene list CSV produced by list-scenes and
// returns cut start times in seconds.
func parseSceneList(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scene list: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse scene list: %v", err)
	}

	// Locate the header row and the "Start Time (seconds)" column; the CSV
	// optionally begins with a timecode list row.
	startCol := -1
	headerRow := -1
	for i, rec := range records {
		for j, field := range rec {
			if strings.EqualFold(strings.TrimSpace(field), "Start Time (seconds)") {
				startCol = j
				headerRow = i
				break
			}
		}
		if startCol >= 0 {
			break
		}
	}
	if startCol < 0 {
		return nil, fmt.Errorf("scene list %s has no start time column", path)
	}

	var cuts []float64
	for _, rec := range records[headerRow+1:] {
		if len(rec) <= startCol {
			continue
		}
		ts, err := strconv.ParseFloat(strings.TrimSpace(rec[startCol]), 64)
		if err != nil {
			continue
		}
		cuts = append(cuts, ts)
	}
	sort.Float64s(cuts)
	return cuts, nil
}

// ProbeFps reads the video stream frame rate with ffprobe.
func (d *SceneDetect) ProbeFps(ctx context.Context, videoPath string) (float64, error) {
	return ProbeFps(ctx, videoPath)
}

// Unavailable stands in when the scenedetect binary is missing. Detect
// always reports ErrDetectorUnavailable; fps probing still works, it
// only needs ffprobe.
type Unavailable struct{}

func (Unavailable) Detect(ctx context.Context, videoPath string, duration, fps float64) ([]Scene, error) {
	return nil, ErrDetectorUnavailable
}

func (Unavailable) ProbeFps(ctx context.Context, videoPath string) (float64, error) {
	return ProbeFps(ctx, videoPath)
}

// ProbeFps runs ffprobe and parses the r_frame_rate fraction.
func ProbeFps(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %v", err)
	}
	return ParseFpsFraction(strings.TrimSpace(string(output)))
}

// ParseFpsFraction parses ffprobe frame rate output ("24000/1001", "25/1"
// or a bare number).
func ParseFpsFraction(s string) (float64, error) {
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q", s)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("invalid frame rate %q", s)
		}
		return n / d, nil
	}
	fps, err := strconv.ParseFloat(s, 64)
	if err != nil || fps <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return fps, nil
}

const (
	// Cuts implying a shot shorter than this are flash/noise artifacts.
	minShotSeconds = 0.3
	// Shots longer than this are never merged away.
	keepShotSeconds = 0.8

	startBoundaryTolerance = 0.5
	endBoundaryTolerance   = 2.0
)

// FinalizeCuts applies the smart-merge pass and the start/end boundary
// guarantees, then converts cut times into Scenes.
func FinalizeCuts(cuts []float64, duration, fps float64) []Scene {
	merged := smartMerge(cuts)

	if len(merged) == 0 || merged[0] > startBoundaryTolerance {
		merged = append([]float64{0}, merged...)
	}
	if last := merged[len(merged)-1]; duration-last > endBoundaryTolerance {
		merged = append(merged, duration)
	}

	scenes := make([]Scene, len(merged))
	for i, ts := range merged {
		scenes[i] = Scene{Timestamp: ts, Timecode: timecode.FromSeconds(ts, fps)}
	}
	return scenes
}

// smartMerge removes micro-artifacts: a cut terminating a shot shorter
// than 0.3 s is discarded as a flash. Shots over 0.8 s keep both of their
// boundaries unconditionally.
func smartMerge(cuts []float64) []float64 {
	if len(cuts) == 0 {
		return nil
	}
	merged := []float64{cuts[0]}
	for _, cut := range cuts[1:] {
		shot := cut - merged[len(merged)-1]
		if shot < minShotSeconds && shot < keepShotSeconds {
			continue
		}
		merged = append(merged, cut)
	}
	return merged
}

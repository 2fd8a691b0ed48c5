package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"montazh/analyzer"
	"montazh/credits"
	"montazh/database"
	"montazh/detector"
	"montazh/metrics"
	"montazh/planner"
	"montazh/splitter"
	"montazh/timecode"
)

// Config holds the orchestration profile.
type Config struct {
	Model                string  // analyzer model version
	ChunkSeconds         float64 // nominal chunk length
	BatchSize            int     // 1 = sequential conservative profile
	DefaultFps           float64 // when probing fails
	MaxRetryFailures     int     // retry pass runs only when failures <= this
	MinCompletedFraction float64 // finalization threshold
	MergeCredits         bool
	Credits              credits.Config
}

// DefaultConfig returns the conservative sequential profile.
func DefaultConfig() Config {
	return Config{
		ChunkSeconds:         planner.DefaultChunkSeconds,
		BatchSize:            1,
		DefaultFps:           24,
		MaxRetryFailures:     5,
		MinCompletedFraction: 0.5,
		MergeCredits:         true,
		Credits:              credits.DefaultConfig(),
	}
}

// SourceSplitter is the chunk production contract. The splitter package
// provides the ffmpeg implementation; tests use a fake.
type SourceSplitter interface {
	Fetch(ctx context.Context, videoID, sourceURL string) (string, func(), error)
	Split(ctx context.Context, videoID, userID, sourcePath string, windows []planner.Window) ([]splitter.Chunk, error)
}

// ErrAlreadyCompleted is returned for a duplicate trigger on a video
// that already shipped its sheet. It never changes the video's status.
var ErrAlreadyCompleted = errors.New("video already completed")

// An init placeholder older than this is treated as abandoned and
// reclaimed. Variable for tests.
var placeholderMaxAge = 30 * time.Minute

// Pipeline drives one video from uploaded source to finalized sheet.
type Pipeline struct {
	db      database.Database
	split   SourceSplitter
	det     detector.ShotDetector
	pool    *analyzer.Pool
	cfg     Config
	metrics *metrics.Collector
}

// New assembles a pipeline.
func New(db database.Database, split SourceSplitter, det detector.ShotDetector, pool *analyzer.Pool, cfg Config) *Pipeline {
	return &Pipeline{db: db, split: split, det: det, pool: pool, cfg: cfg, metrics: metrics.NewCollector()}
}

// Process runs the whole pipeline for one video. Script characters, when
// supplied, seed the registry's script matching. Initialization errors
// mark the video failed; per-chunk failures do not stop the run.
func (p *Pipeline) Process(ctx context.Context, videoID string, scriptCharacters []string) error {
	pm := p.metrics.StartVideo(videoID)
	defer pm.Finalize()

	doc, err := p.initialize(ctx, videoID, scriptCharacters)
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			return err
		}
		log.Printf("[Pipeline] ❌ Initialization failed for %s: %v", videoID, err)
		if dbErr := p.db.UpdateVideoStatus(videoID, database.StatusFailed, err.Error()); dbErr != nil {
			log.Printf("[Pipeline] Failed to record failure for %s: %v", videoID, dbErr)
		}
		return err
	}
	return p.drive(ctx, videoID, doc)
}

// initialize takes the init lock, prepares chunks and boundaries, and
// persists the first full progress document. A worker that loses the
// lock resumes from the existing document.
func (p *Pipeline) initialize(ctx context.Context, videoID string, scriptCharacters []string) (*database.ProgressDocument, error) {
	video, err := p.db.GetVideo(videoID)
	if err != nil {
		return nil, fmt.Errorf("video lookup failed: %v", err)
	}
	switch video.Status {
	case database.StatusCompleted:
		return nil, fmt.Errorf("video %s: %w", videoID, ErrAlreadyCompleted)
	case database.StatusUploaded, database.StatusFailed:
		if err := p.db.UpdateVideoStatus(videoID, database.StatusProcessing, ""); err != nil {
			return nil, fmt.Errorf("failed to mark processing: %v", err)
		}
	}

	won, err := p.db.TryInitProgress(videoID, &database.ProgressDocument{})
	if err != nil {
		return nil, err
	}
	if !won {
		doc, err := p.db.GetProgress(videoID)
		if err != nil {
			return nil, err
		}
		if len(doc.Chunks) > 0 {
			log.Printf("[Pipeline] Video %s already has a progress document, resuming", videoID)
			return doc, nil
		}
		// A chunkless document is an init placeholder. Fresh means
		// another worker is mid-initialization; old means that worker
		// died before its first SaveProgress, so take the work over.
		if time.Since(doc.UpdatedAt) < placeholderMaxAge {
			log.Printf("[Pipeline] Video %s is being initialized by another worker", videoID)
			return doc, nil
		}
		log.Printf("[Pipeline] Video %s has an abandoned init placeholder, re-initializing", videoID)
	}

	sourcePath, cleanup, err := p.split.Fetch(ctx, videoID, video.StoragePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	fps := video.Fps
	if fps <= 0 {
		fps, err = p.det.ProbeFps(ctx, sourcePath)
		if err != nil {
			log.Printf("[Pipeline] FPS probe failed (%v), assuming %g", err, p.cfg.DefaultFps)
			fps = p.cfg.DefaultFps
		}
	}

	windows, err := planner.Plan(video.Duration, p.cfg.ChunkSeconds)
	if err != nil {
		return nil, fmt.Errorf("chunk planning failed: %v", err)
	}

	pm := p.metrics.Get(videoID)
	pm.StartSplit()
	chunks, err := p.split.Split(ctx, videoID, video.UserID, sourcePath, windows)
	if err != nil {
		return nil, fmt.Errorf("split failed: %v", err)
	}
	pm.EndSplit()

	pm.StartDetect()
	merged, detected, err := p.detectScenes(ctx, sourcePath, video.Duration, fps, windows)
	if err != nil {
		return nil, err
	}
	pm.EndDetect()

	sheetID, err := p.db.CreateSheet(database.Sheet{
		VideoID: videoID,
		UserID:  video.UserID,
		Title:   video.Filename,
	})
	if err != nil {
		return nil, fmt.Errorf("sheet creation failed: %v", err)
	}

	doc := &database.ProgressDocument{
		SheetID:        sheetID,
		TotalChunks:    len(chunks),
		VideoFps:       fps,
		DetectedScenes: detected,
		MergedScenes:   merged,
		ScriptData:     scriptCharacters,
	}
	for _, c := range chunks {
		doc.Chunks = append(doc.Chunks, database.ChunkProgress{
			Index:         c.Index,
			StartTimecode: c.Window.StartTimecode,
			EndTimecode:   c.Window.EndTimecode,
			StartSeconds:  c.Window.Start,
			EndSeconds:    c.Window.End,
			Status:        database.ChunkPending,
			StorageURL:    c.SignedURL,
			RemotePath:    c.RemotePath,
		})
	}
	if err := p.db.SaveProgress(videoID, doc); err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] Video %s initialized: %d chunks, %d merged scenes, fps %g",
		videoID, len(chunks), len(merged), fps)
	return doc, nil
}

// detectScenes runs shot detection and credits merging. When the
// detector is unavailable the fallback is one scene per chunk window.
func (p *Pipeline) detectScenes(ctx context.Context, sourcePath string, duration, fps float64, windows []planner.Window) ([]credits.Segment, []detector.Scene, error) {
	scenes, err := p.det.Detect(ctx, sourcePath, duration, fps)
	if err != nil {
		if !errors.Is(err, detector.ErrDetectorUnavailable) {
			return nil, nil, fmt.Errorf("scene detection failed: %v", err)
		}
		log.Printf("[Pipeline] Detector unavailable, falling back to one scene per chunk")
		var segments []credits.Segment
		for _, w := range windows {
			segments = append(segments, credits.Segment{
				StartTimecode:       w.StartTimecode,
				EndTimecode:         w.EndTimecode,
				StartTimestamp:      w.Start,
				EndTimestamp:        w.End,
				Type:                credits.TypeRegular,
				OriginalScenesCount: 1,
			})
		}
		return segments, nil, nil
	}

	if p.cfg.MergeCredits {
		return credits.Merge(scenes, duration, fps, p.cfg.Credits), scenes, nil
	}
	return credits.Passthrough(scenes, duration, fps), scenes, nil
}

// segmentsInWindow returns the merged scenes whose start falls inside
// [start, end).
func segmentsInWindow(segments []credits.Segment, start, end float64) []credits.Segment {
	var out []credits.Segment
	for _, s := range segments {
		if s.StartTimestamp >= start && s.StartTimestamp < end {
			out = append(out, s)
		}
	}
	return out
}

// chunkTimecodes renders a window's boundary pair for logging.
func chunkTimecodes(c database.ChunkProgress, fps float64) string {
	start := c.StartTimecode
	if start == "" {
		start = timecode.FromSeconds(c.StartSeconds, fps)
	}
	end := c.EndTimecode
	if end == "" {
		end = timecode.FromSeconds(c.EndSeconds, fps)
	}
	return start + " - " + end
}

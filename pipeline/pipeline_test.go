package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"montazh/analyzer"
	"montazh/database"
	"montazh/detector"
	"montazh/planner"
	"montazh/splitter"
)

// fakeSplitter produces chunks without touching ffmpeg or storage.
type fakeSplitter struct{}

func (fakeSplitter) Fetch(ctx context.Context, videoID, sourceURL string) (string, func(), error) {
	return sourceURL, func() {}, nil
}

func (fakeSplitter) Split(ctx context.Context, videoID, userID, sourcePath string, windows []planner.Window) ([]splitter.Chunk, error) {
	chunks := make([]splitter.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = splitter.Chunk{
			Index:      w.Index,
			Window:     w,
			RemotePath: fmt.Sprintf("%s/chunks/%d.mp4", userID, i),
			SignedURL:  fmt.Sprintf("https://signed.example.com/chunk-%d", i),
		}
	}
	return chunks, nil
}

// fakeDetector returns canned cuts, or reports itself unavailable.
type fakeDetector struct {
	cuts        []float64
	unavailable bool
}

func (f fakeDetector) Detect(ctx context.Context, videoPath string, duration, fps float64) ([]detector.Scene, error) {
	if f.unavailable {
		return nil, fmt.Errorf("%w: not installed", detector.ErrDetectorUnavailable)
	}
	return detector.FinalizeCuts(f.cuts, duration, fps), nil
}

func (f fakeDetector) ProbeFps(ctx context.Context, videoPath string) (float64, error) {
	return 24, nil
}

var promptBoundaryRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}:\d{2}) - (\d{2}:\d{2}:\d{2}:\d{2})`)

// fakeModel answers prediction calls by echoing back every boundary pair
// it finds in the prompt as a markdown scene block. Failures and garbage
// replies are scripted per chunk URL.
type fakeModel struct {
	mu        sync.Mutex
	prompts   map[string][]string // url -> prompts seen
	failures  map[string][]string // url -> error messages served first
	garbage   map[string]bool     // url -> unparseable reply
	dialogues map[string]string   // url -> dialogue for every scene
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		prompts:   make(map[string][]string),
		failures:  make(map[string][]string),
		garbage:   make(map[string]bool),
		dialogues: make(map[string]string),
	}
}

func (f *fakeModel) CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*analyzer.Prediction, error) {
	url := input["videos"].([]string)[0]
	promptText := input["prompt"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[url] = append(f.prompts[url], promptText)

	if msgs := f.failures[url]; len(msgs) > 0 {
		f.failures[url] = msgs[1:]
		return &analyzer.Prediction{ID: "p", Status: analyzer.StatusFailed, Error: msgs[0]}, nil
	}
	if f.garbage[url] {
		return &analyzer.Prediction{ID: "p", Status: analyzer.StatusSucceeded, Output: "Не могу описать этот фрагмент."}, nil
	}

	dialogue := f.dialogues[url]
	if dialogue == "" {
		dialogue = "Музыка"
	}
	var b strings.Builder
	for i, m := range promptBoundaryRe.FindAllStringSubmatch(promptText, -1) {
		fmt.Fprintf(&b, "**%s - %s**\nПлан: Ср.\nСодержание: Сцена номер %d у таймкода %s\nДиалоги: %s\n\n",
			m[1], m[2], i+1, m[1], dialogue)
	}
	return &analyzer.Prediction{ID: "p", Status: analyzer.StatusSucceeded, Output: b.String()}, nil
}

func (f *fakeModel) GetPrediction(ctx context.Context, id string) (*analyzer.Prediction, error) {
	return nil, errors.New("unexpected poll")
}

func (f *fakeModel) promptFor(url string, call int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if call >= len(f.prompts[url]) {
		return ""
	}
	return f.prompts[url][call]
}

type fixture struct {
	db    *database.SQLiteDB
	model *fakeModel
	pipe  *Pipeline
}

func setupPipeline(t *testing.T, det detector.ShotDetector, cfg Config) *fixture {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	model := newFakeModel()
	pool, err := analyzer.NewPool(map[string]analyzer.PredictionClient{"key1": model})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	return &fixture{
		db:    db,
		model: model,
		pipe:  New(db, fakeSplitter{}, det, pool, cfg),
	}
}

func createVideo(t *testing.T, db *database.SQLiteDB, id string, duration float64) {
	t.Helper()
	err := db.CreateVideo(database.Video{
		ID:          id,
		UserID:      "user-1",
		Filename:    "film.mp4",
		StoragePath: "https://cdn.example.com/film.mp4",
		Duration:    duration,
		Status:      database.StatusUploaded,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// Regular cuts every 60 s over a 400 s video: no credits regions, two
// chunks ([0,180) and [180,400)).
var evenCuts = []float64{0, 60, 120, 180, 240, 300, 360}

func TestProcessHappyPath(t *testing.T) {
	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)
	f.model.dialogues["https://signed.example.com/chunk-0"] = "ГАЛЯ\nПривет!"
	f.model.dialogues["https://signed.example.com/chunk-1"] = "ЮСЕФ\nЗдравствуй."

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, err := f.db.GetVideo("v1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != database.StatusCompleted || v.CompletedAt == nil {
		t.Fatalf("video = %+v", v)
	}

	doc, err := f.db.GetProgress("v1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalChunks != 2 || doc.CompletedChunks != 2 {
		t.Errorf("progress = %d/%d chunks", doc.CompletedChunks, doc.TotalChunks)
	}
	if doc.VideoFps != 24 {
		t.Errorf("fps = %g, want probed 24", doc.VideoFps)
	}

	entries, err := f.db.ListEntries(doc.SheetID)
	if err != nil {
		t.Fatal(err)
	}
	// 7 shots across the whole video.
	if len(entries) != 7 {
		t.Fatalf("entries = %d, want 7", len(entries))
	}
	for i, e := range entries {
		if e.PlanNumber != i+1 || e.OrderIndex != i+1 {
			t.Errorf("entry %d numbering: plan %d order %d", i, e.PlanNumber, e.OrderIndex)
		}
	}
	// The perfect-match path keeps the detector's boundary timecodes.
	if entries[0].StartTimecode != "00:00:00:00" || entries[0].EndTimecode != "00:01:00:00" {
		t.Errorf("entry 0 timecodes: %s - %s", entries[0].StartTimecode, entries[0].EndTimecode)
	}
	if entries[6].EndTimecode != "00:06:40:00" {
		t.Errorf("final entry ends at %s, want 00:06:40:00", entries[6].EndTimecode)
	}

	// Registry propagation: chunk 1's prompt carries the names observed
	// in chunk 0.
	secondPrompt := f.model.promptFor("https://signed.example.com/chunk-1", 0)
	if !strings.Contains(secondPrompt, "ГАЛЯ") {
		t.Errorf("chunk 1 prompt missing ГАЛЯ:\n%s", secondPrompt)
	}
	names := make(map[string]bool)
	for _, c := range doc.CharacterRegistry {
		names[c.CanonicalName] = true
	}
	if !names["ГАЛЯ"] || !names["ЮСЕФ"] {
		t.Errorf("registry = %+v", doc.CharacterRegistry)
	}
}

func TestProcessTemporaryAnalyzerFailure(t *testing.T) {
	// Single 120 s chunk; the first analyzer call fails with a temporary
	// code and the retry succeeds.
	temporaryBackoff = func(int) time.Duration { return time.Millisecond }
	defer func() { temporaryBackoff = analyzer.TemporaryBackoff }()

	f := setupPipeline(t, fakeDetector{cuts: []float64{0, 40, 80}}, DefaultConfig())
	createVideo(t, f.db, "v1", 120)
	f.model.failures["https://signed.example.com/chunk-0"] = []string{"E6716: worker restarted"}

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, _ := f.db.GetVideo("v1")
	if v.Status != database.StatusCompleted {
		t.Fatalf("video status = %s, want completed", v.Status)
	}
	doc, _ := f.db.GetProgress("v1")
	if doc.Chunk(0).Status != database.ChunkCompleted {
		t.Errorf("chunk status = %s", doc.Chunk(0).Status)
	}
	f.model.mu.Lock()
	calls := len(f.model.prompts["https://signed.example.com/chunk-0"])
	f.model.mu.Unlock()
	if calls != 2 {
		t.Errorf("analyzer calls = %d, want 2", calls)
	}
}

func TestProcessPartialSheetShips(t *testing.T) {
	// Chunk 1 only ever produces garbage: it fails its pass and the
	// retry, but half the chunks completed, so the sparse sheet ships.
	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)
	f.model.garbage["https://signed.example.com/chunk-1"] = true

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, _ := f.db.GetVideo("v1")
	if v.Status != database.StatusCompleted {
		t.Fatalf("video status = %s, want completed (sparse sheet ships)", v.Status)
	}

	doc, _ := f.db.GetProgress("v1")
	if doc.Chunk(1).Status != database.ChunkFailed {
		t.Errorf("chunk 1 status = %s, want failed", doc.Chunk(1).Status)
	}
	// First pass plus the retry pass.
	if doc.Chunk(1).Attempts != 2 {
		t.Errorf("chunk 1 attempts = %d, want 2", doc.Chunk(1).Attempts)
	}
	if doc.Chunk(1).ErrorMessage == "" {
		t.Error("chunk 1 has no error message")
	}

	entries, _ := f.db.ListEntries(doc.SheetID)
	// Only chunk 0's three shots made it.
	if len(entries) != 3 {
		t.Errorf("entries = %d, want 3", len(entries))
	}
}

func TestProcessFailsBelowThreshold(t *testing.T) {
	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)
	f.model.garbage["https://signed.example.com/chunk-0"] = true
	f.model.garbage["https://signed.example.com/chunk-1"] = true

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, _ := f.db.GetVideo("v1")
	if v.Status != database.StatusFailed {
		t.Fatalf("video status = %s, want failed", v.Status)
	}
	if !strings.Contains(v.ErrorMessage, "0 of 2 chunks") {
		t.Errorf("error message = %q", v.ErrorMessage)
	}
}

func TestProcessDetectorUnavailableFallback(t *testing.T) {
	f := setupPipeline(t, fakeDetector{unavailable: true}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, _ := f.db.GetVideo("v1")
	if v.Status != database.StatusCompleted {
		t.Fatalf("video status = %s, want completed", v.Status)
	}

	doc, _ := f.db.GetProgress("v1")
	// Fallback: one scene per chunk window.
	if len(doc.MergedScenes) != 2 {
		t.Fatalf("merged scenes = %d, want 2", len(doc.MergedScenes))
	}
	entries, _ := f.db.ListEntries(doc.SheetID)
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestProcessAlreadyCompleted(t *testing.T) {
	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)
	if err := f.db.UpdateVideoStatus("v1", database.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	err := f.pipe.Process(context.Background(), "v1", nil)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
	// A duplicate trigger must not disturb the shipped video.
	v, _ := f.db.GetVideo("v1")
	if v.Status != database.StatusCompleted {
		t.Errorf("video status = %s after duplicate trigger", v.Status)
	}
}

func TestProcessParallelBatch(t *testing.T) {
	// Two pool clients and BatchSize 2: chunks run concurrently against
	// frozen registry clones that merge afterward.
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	defer db.Close()

	model := newFakeModel()
	pool, err := analyzer.NewPool(map[string]analyzer.PredictionClient{
		"key1": model,
		"key2": model,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	pipe := New(db, fakeSplitter{}, fakeDetector{cuts: evenCuts}, pool, cfg)

	createVideo(t, db, "v1", 400)
	model.dialogues["https://signed.example.com/chunk-0"] = "ГАЛЯ\nПривет!"
	model.dialogues["https://signed.example.com/chunk-1"] = "ЮСЕФ\nЗдравствуй."

	if err := pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, _ := db.GetVideo("v1")
	if v.Status != database.StatusCompleted {
		t.Fatalf("video status = %s, want completed", v.Status)
	}
	doc, _ := db.GetProgress("v1")
	entries, _ := db.ListEntries(doc.SheetID)
	if len(entries) != 7 {
		t.Errorf("entries = %d, want 7", len(entries))
	}
	// Observations from both frozen clones survive the merge.
	names := make(map[string]bool)
	for _, c := range doc.CharacterRegistry {
		names[c.CanonicalName] = true
	}
	if !names["ГАЛЯ"] || !names["ЮСЕФ"] {
		t.Errorf("registry after merge = %+v", doc.CharacterRegistry)
	}
}

func TestProcessScriptDataSeedsRegistry(t *testing.T) {
	f := setupPipeline(t, fakeDetector{cuts: []float64{0, 40, 80}}, DefaultConfig())
	createVideo(t, f.db, "v1", 120)
	f.model.dialogues["https://signed.example.com/chunk-0"] = "ЮСЕФ\nПривет."

	if err := f.pipe.Process(context.Background(), "v1", []string{"Юсеф", "Галина"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	doc, _ := f.db.GetProgress("v1")
	if len(doc.ScriptData) != 2 {
		t.Errorf("scriptData = %v", doc.ScriptData)
	}
	var match string
	for _, c := range doc.CharacterRegistry {
		if c.CanonicalName == "ЮСЕФ" {
			match = c.PossibleScriptMatch
		}
	}
	if match != "Юсеф" {
		t.Errorf("script match = %q, want Юсеф", match)
	}
}

func TestProcessLoserLeavesInitializerAlone(t *testing.T) {
	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)

	// Another worker holds the init lock and is still splitting: its
	// placeholder document has no chunks yet.
	if err := f.db.UpdateVideoStatus("v1", database.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	won, err := f.db.TryInitProgress("v1", &database.ProgressDocument{})
	if err != nil || !won {
		t.Fatalf("TryInitProgress = %v, %v", won, err)
	}

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, err := f.db.GetVideo("v1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != database.StatusProcessing {
		t.Fatalf("video status = %s, want processing left to the initializer", v.Status)
	}
	doc, err := f.db.GetProgress("v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Chunks) != 0 {
		t.Errorf("placeholder overwritten: %d chunks", len(doc.Chunks))
	}
}

func TestProcessReclaimsAbandonedInit(t *testing.T) {
	placeholderMaxAge = 0
	defer func() { placeholderMaxAge = 30 * time.Minute }()

	f := setupPipeline(t, fakeDetector{cuts: evenCuts}, DefaultConfig())
	createVideo(t, f.db, "v1", 400)

	// A worker died between taking the init lock and its first full
	// progress save. The stale placeholder must not pin the video.
	if err := f.db.UpdateVideoStatus("v1", database.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.TryInitProgress("v1", &database.ProgressDocument{}); err != nil {
		t.Fatal(err)
	}

	if err := f.pipe.Process(context.Background(), "v1", nil); err != nil {
		t.Fatalf("Process: %v", err)
	}

	v, err := f.db.GetVideo("v1")
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != database.StatusCompleted {
		t.Fatalf("video status = %s, want completed", v.Status)
	}
	doc, err := f.db.GetProgress("v1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalChunks != 2 || doc.CompletedChunks != 2 {
		t.Errorf("progress = %d/%d chunks", doc.CompletedChunks, doc.TotalChunks)
	}
}

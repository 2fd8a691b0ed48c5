package database

import (
	"time"

	"montazh/credits"
	"montazh/detector"
	"montazh/registry"
)

// CurrentProcessingVersion tags progress documents for forward
// migrations.
const CurrentProcessingVersion = 2

// ProgressDocument carries all orchestration state for one video. It is
// stored as a JSON blob on the video row and mutated only through the
// Database transition methods.
type ProgressDocument struct {
	ProcessingVersion int     `json:"processingVersion"`
	SheetID           string  `json:"sheetId,omitempty"`
	TotalChunks       int     `json:"totalChunks"`
	CompletedChunks   int     `json:"completedChunks"`
	CurrentChunk      int     `json:"currentChunk"`
	VideoFps          float64 `json:"videoFps"`

	Chunks            []ChunkProgress      `json:"chunks"`
	DetectedScenes    []detector.Scene     `json:"detectedScenes,omitempty"`
	MergedScenes      []credits.Segment    `json:"mergedScenes,omitempty"`
	CharacterRegistry []registry.Character `json:"characterRegistry,omitempty"`
	ScriptData        []string             `json:"scriptData,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// ChunkProgress is one chunk's state within the progress document. A
// chunk keeps its identity across retries: same index, same window,
// same storage URL.
type ChunkProgress struct {
	Index         int         `json:"index"`
	StartTimecode string      `json:"startTimecode"`
	EndTimecode   string      `json:"endTimecode"`
	StartSeconds  float64     `json:"startSeconds"`
	EndSeconds    float64     `json:"endSeconds"`
	Status        ChunkStatus `json:"status"`
	StorageURL    string      `json:"storageUrl,omitempty"`
	RemotePath    string      `json:"remotePath,omitempty"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	Attempts      int         `json:"attempts"`
}

// CountByStatus returns how many chunks currently hold the status.
func (d *ProgressDocument) CountByStatus(status ChunkStatus) int {
	n := 0
	for _, c := range d.Chunks {
		if c.Status == status {
			n++
		}
	}
	return n
}

// CompletedFraction returns completed/total, or 0 for an empty document.
func (d *ProgressDocument) CompletedFraction() float64 {
	if len(d.Chunks) == 0 {
		return 0
	}
	return float64(d.CountByStatus(ChunkCompleted)) / float64(len(d.Chunks))
}

// Chunk returns the chunk with the given index, or nil.
func (d *ProgressDocument) Chunk(index int) *ChunkProgress {
	for i := range d.Chunks {
		if d.Chunks[i].Index == index {
			return &d.Chunks[i]
		}
	}
	return nil
}

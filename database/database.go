// Package database persists videos, montage sheets, entries and the
// per-video progress document.
package database

import (
	"errors"
	"time"
)

// VideoStatus represents the lifecycle state of a video.
type VideoStatus string

const (
	StatusUploaded   VideoStatus = "uploaded"   // Source uploaded, processing not started
	StatusProcessing VideoStatus = "processing" // Pipeline is running
	StatusCompleted  VideoStatus = "completed"  // Sheet finalized
	StatusFailed     VideoStatus = "failed"     // Terminal failure, needs operator attention
)

// ChunkStatus represents one chunk's state inside the progress document.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkFailed     ChunkStatus = "failed"
)

// ErrConcurrentTransition is returned when a status transition finds a
// different prior status than expected.
var ErrConcurrentTransition = errors.New("concurrent status transition")

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Video is one uploaded source video.
type Video struct {
	ID           string      `json:"id"`
	UserID       string      `json:"userId"`
	Filename     string      `json:"filename"`
	StoragePath  string      `json:"storagePath"` // source location: URL or object key
	Duration     float64     `json:"duration"`    // seconds
	Fps          float64     `json:"fps"`
	Status       VideoStatus `json:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
}

// Sheet is the montage sheet produced for a video. One per video.
type Sheet struct {
	ID      string `json:"id"`
	VideoID string `json:"videoId"`
	UserID  string `json:"userId"`
	Title   string `json:"title"`
}

// Entry is one row of a montage sheet.
type Entry struct {
	ID            int64  `json:"id"`
	SheetID       string `json:"sheetId"`
	PlanNumber    int    `json:"planNumber"`
	OrderIndex    int    `json:"orderIndex"`
	StartTimecode string `json:"startTimecode"`
	EndTimecode   string `json:"endTimecode"`
	PlanType      string `json:"planType"`
	Description   string `json:"description"`
	Dialogues     string `json:"dialogues"`
}

// Database defines the persistence operations the pipeline needs.
type Database interface {
	// Video operations
	CreateVideo(v Video) error
	GetVideo(id string) (*Video, error)
	ListVideos(limit, offset int) ([]Video, error)
	UpdateVideoStatus(id string, status VideoStatus, errorMsg string) error
	MarkVideoCompleted(id string) error
	GetStaleProcessingVideos(cutoff time.Time) ([]Video, error)
	DeleteVideo(id string) error

	// Progress document operations
	TryInitProgress(videoID string, doc *ProgressDocument) (bool, error)
	GetProgress(videoID string) (*ProgressDocument, error)
	SaveProgress(videoID string, doc *ProgressDocument) error
	UpdateChunkStatus(videoID string, chunkIndex int, from, to ChunkStatus, errorMsg string) error

	// Sheet and entry operations
	CreateSheet(s Sheet) (string, error)
	GetSheetByVideo(videoID string) (*Sheet, error)
	InsertEntries(entries []Entry) error
	GetLastPlanNumber(sheetID string) (int, error)
	ListEntries(sheetID string) ([]Entry, error)
	DeleteEntries(ids []int64) error
	RenumberEntries(sheetID string) error

	// Runtime-tunable settings
	GetAllConfig() (map[string]string, error)
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
	DeleteConfig(key string) error

	// Helper operations
	Close() error
}

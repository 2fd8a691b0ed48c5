// Package metrics tracks per-video pipeline timing: source preparation,
// scene detection, chunk analysis and finalization.
package metrics

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// PipelineMetrics tracks timing for one video's pipeline run.
type PipelineMetrics struct {
	VideoID          string
	StartTime        time.Time
	SplitStartTime   *time.Time
	SplitEndTime     *time.Time
	SplitDuration    time.Duration
	DetectStartTime  *time.Time
	DetectEndTime    *time.Time
	DetectDuration   time.Duration
	AnalyzeDuration  time.Duration // summed across chunks
	ChunksCompleted  int
	ChunksFailed     int
	FinalizeStart    *time.Time
	FinalizeDuration time.Duration
	TotalDuration    time.Duration
	mu               sync.Mutex
}

// NewPipelineMetrics creates a new metrics instance
func NewPipelineMetrics(videoID string) *PipelineMetrics {
	return &PipelineMetrics{
		VideoID:   videoID,
		StartTime: time.Now(),
	}
}

// StartSplit marks the start of source download and chunk cutting
func (m *PipelineMetrics) StartSplit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.SplitStartTime = &now
	log.Printf("[Metrics] Video %s: Starting source split", m.VideoID)
}

// EndSplit marks the end of source download and chunk cutting
func (m *PipelineMetrics) EndSplit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SplitStartTime != nil {
		now := time.Now()
		m.SplitEndTime = &now
		m.SplitDuration = now.Sub(*m.SplitStartTime)
		log.Printf("[Metrics] Video %s: Source split completed in %v", m.VideoID, m.SplitDuration)
	}
}

// StartDetect marks the start of scene detection
func (m *PipelineMetrics) StartDetect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.DetectStartTime = &now
	log.Printf("[Metrics] Video %s: Starting scene detection", m.VideoID)
}

// EndDetect marks the end of scene detection
func (m *PipelineMetrics) EndDetect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DetectStartTime != nil {
		now := time.Now()
		m.DetectEndTime = &now
		m.DetectDuration = now.Sub(*m.DetectStartTime)
		log.Printf("[Metrics] Video %s: Scene detection completed in %v", m.VideoID, m.DetectDuration)
	}
}

// AddChunkResult records one chunk's analysis outcome and duration
func (m *PipelineMetrics) AddChunkResult(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnalyzeDuration += duration
	if success {
		m.ChunksCompleted++
	} else {
		m.ChunksFailed++
	}
}

// StartFinalize marks the start of sheet finalization
func (m *PipelineMetrics) StartFinalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.FinalizeStart = &now
}

// EndFinalize marks the end of sheet finalization
func (m *PipelineMetrics) EndFinalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FinalizeStart != nil {
		m.FinalizeDuration = time.Since(*m.FinalizeStart)
	}
}

// Finalize calculates total duration and logs summary
func (m *PipelineMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalDuration = time.Since(m.StartTime)
	log.Printf("[Metrics] Video %s: Run completed - Total: %v, Split: %v, Detect: %v, Analyze: %v (%d ok, %d failed), Finalize: %v",
		m.VideoID,
		m.TotalDuration,
		m.SplitDuration,
		m.DetectDuration,
		m.AnalyzeDuration,
		m.ChunksCompleted,
		m.ChunksFailed,
		m.FinalizeDuration)
}

// GetSummary returns a formatted summary of all metrics
func (m *PipelineMetrics) GetSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := fmt.Sprintf("Pipeline Metrics for %s:\n", m.VideoID)
	summary += fmt.Sprintf("  Total Duration: %v\n", m.TotalDuration)
	if m.SplitDuration > 0 {
		summary += fmt.Sprintf("  Source Split: %v\n", m.SplitDuration)
	}
	if m.DetectDuration > 0 {
		summary += fmt.Sprintf("  Scene Detection: %v\n", m.DetectDuration)
	}
	if m.AnalyzeDuration > 0 {
		summary += fmt.Sprintf("  Chunk Analysis: %v (%d completed, %d failed)\n",
			m.AnalyzeDuration, m.ChunksCompleted, m.ChunksFailed)
	}
	if m.FinalizeDuration > 0 {
		summary += fmt.Sprintf("  Finalization: %v\n", m.FinalizeDuration)
	}
	return summary
}

// Collector manages metrics for multiple videos
type Collector struct {
	metrics map[string]*PipelineMetrics
	mu      sync.RWMutex
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		metrics: make(map[string]*PipelineMetrics),
	}
}

// StartVideo creates metrics for a new pipeline run
func (c *Collector) StartVideo(videoID string) *PipelineMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := NewPipelineMetrics(videoID)
	c.metrics[videoID] = metrics
	return metrics
}

// Get retrieves metrics for a video, or nil
func (c *Collector) Get(videoID string) *PipelineMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.metrics[videoID]
}

// CleanupOldMetrics removes metrics older than the specified duration
func (c *Collector) CleanupOldMetrics(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for videoID, metrics := range c.metrics {
		if now.Sub(metrics.StartTime) > maxAge {
			delete(c.metrics, videoID)
			log.Printf("[Metrics] Cleaned up old metrics for video %s", videoID)
		}
	}
}

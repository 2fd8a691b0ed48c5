// Package cron schedules background maintenance: requeueing stale
// processing videos and cleaning local scratch space.
package cron

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"montazh/database"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/robfig/cron/v3"
)

// Processor resumes the pipeline for one video. Satisfied by
// pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, videoID string, scriptCharacters []string) error
}

// ChunkStore is the object-storage surface the orphan sweep needs.
// Satisfied by storage.R2Storage.
type ChunkStore interface {
	ListObjects(ctx context.Context, prefix string) ([]*s3.Object, error)
	DeleteObject(ctx context.Context, remotePath string) error
}

// Scratch work directories older than this are removed.
const scratchMaxAge = 24 * time.Hour

// Uploaded objects younger than this are never swept: their progress
// document may not be saved yet.
const orphanMinAge = 24 * time.Hour

// Per-video time budget when requeueing.
const requeueTimeout = 2 * time.Hour

// MaintenanceCron owns the scheduled maintenance jobs.
type MaintenanceCron struct {
	cron       *cron.Cron
	db         database.Database
	pipe       Processor
	store      ChunkStore
	scratchDir string
	staleAfter time.Duration
	isRunning  bool
}

// NewMaintenanceCron creates the maintenance scheduler. staleAfter is
// how long a video may sit in processing before it is considered stuck.
// A nil store disables the orphaned-chunk sweep.
func NewMaintenanceCron(db database.Database, pipe Processor, store ChunkStore, scratchDir string, staleAfter time.Duration) *MaintenanceCron {
	return &MaintenanceCron{
		cron:       cron.New(cron.WithSeconds()),
		db:         db,
		pipe:       pipe,
		store:      store,
		scratchDir: scratchDir,
		staleAfter: staleAfter,
	}
}

// Start begins the maintenance cron jobs.
func (mc *MaintenanceCron) Start() error {
	if mc.isRunning {
		log.Println("[MaintenanceCron] Cron is already running")
		return nil
	}

	log.Println("[MaintenanceCron] Starting maintenance cron jobs...")

	// Requeue stuck videos hourly at :10. The progress document makes the
	// rerun resume from the last completed chunk.
	_, err := mc.cron.AddFunc("0 10 * * * *", func() {
		mc.requeueStaleVideos()
	})
	if err != nil {
		return err
	}

	// Clean scratch space daily at 03:30, offset from the requeue job.
	_, err = mc.cron.AddFunc("0 30 3 * * *", func() {
		mc.cleanupScratch()
	})
	if err != nil {
		return err
	}

	// Sweep orphaned chunk objects daily at 04:00.
	if mc.store != nil {
		_, err = mc.cron.AddFunc("0 0 4 * * *", func() {
			mc.sweepOrphanedChunks()
		})
		if err != nil {
			return err
		}
	}

	mc.cron.Start()
	mc.isRunning = true

	log.Println("[MaintenanceCron] ✅ Maintenance cron jobs started")
	log.Println("[MaintenanceCron] • Stale video requeue: Hourly at :10")
	log.Println("[MaintenanceCron] • Scratch cleanup: Daily at 03:30")
	if mc.store != nil {
		log.Println("[MaintenanceCron] • Orphaned chunk sweep: Daily at 04:00")
	}
	return nil
}

// Stop stops the maintenance cron jobs, waiting for running jobs.
func (mc *MaintenanceCron) Stop() {
	if !mc.isRunning {
		return
	}

	log.Println("[MaintenanceCron] Stopping maintenance cron jobs...")
	ctx := mc.cron.Stop()
	select {
	case <-ctx.Done():
		log.Println("[MaintenanceCron] ✅ Maintenance cron stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("[MaintenanceCron] ⚠️  Maintenance cron stopped with timeout")
	}
	mc.isRunning = false
}

// IsRunning returns whether the cron is currently running.
func (mc *MaintenanceCron) IsRunning() bool {
	return mc.isRunning
}

// requeueStaleVideos restarts processing for videos stuck in the
// processing state longer than staleAfter.
func (mc *MaintenanceCron) requeueStaleVideos() {
	cutoff := time.Now().Add(-mc.staleAfter)
	videos, err := mc.db.GetStaleProcessingVideos(cutoff)
	if err != nil {
		log.Printf("[MaintenanceCron] Error listing stale videos: %v", err)
		return
	}
	if len(videos) == 0 {
		return
	}

	log.Printf("[MaintenanceCron] 🔄 Requeueing %d stale processing videos", len(videos))
	for _, v := range videos {
		ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
		if err := mc.pipe.Process(ctx, v.ID, nil); err != nil {
			log.Printf("[MaintenanceCron] Requeue of video %s failed: %v", v.ID, err)
		}
		cancel()
	}
}

// cleanupScratch removes scratch work directories older than
// scratchMaxAge. Active runs touch their directories constantly, so age
// is a safe criterion.
func (mc *MaintenanceCron) cleanupScratch() {
	log.Println("[MaintenanceCron] 🧹 Starting scratch cleanup...")

	entries, err := os.ReadDir(mc.scratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[MaintenanceCron] Error reading scratch dir: %v", err)
		}
		return
	}

	cutoff := time.Now().Add(-scratchMaxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(mc.scratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[MaintenanceCron] Error removing %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("[MaintenanceCron] ✅ Removed %d stale scratch directories", removed)
	}
}

// sweepOrphanedChunks deletes uploaded chunk objects that no video's
// progress document references. Deleting a video removes its chunks
// inline; this sweep catches leftovers from interrupted runs.
func (mc *MaintenanceCron) sweepOrphanedChunks() {
	log.Println("[MaintenanceCron] 🧹 Starting orphaned chunk sweep...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	referenced, err := mc.referencedChunkPaths()
	if err != nil {
		log.Printf("[MaintenanceCron] Error collecting referenced chunks: %v", err)
		return
	}

	objects, err := mc.store.ListObjects(ctx, "")
	if err != nil {
		log.Printf("[MaintenanceCron] Error listing objects: %v", err)
		return
	}

	cutoff := time.Now().Add(-orphanMinAge)
	removed := 0
	for _, obj := range objects {
		if obj.Key == nil || referenced[*obj.Key] {
			continue
		}
		if obj.LastModified != nil && obj.LastModified.After(cutoff) {
			continue
		}
		if err := mc.store.DeleteObject(ctx, *obj.Key); err != nil {
			log.Printf("[MaintenanceCron] Error deleting orphan %s: %v", *obj.Key, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("[MaintenanceCron] ✅ Removed %d orphaned chunk objects", removed)
	}
}

// referencedChunkPaths walks all videos and collects the chunk object
// keys their progress documents reference.
func (mc *MaintenanceCron) referencedChunkPaths() (map[string]bool, error) {
	referenced := make(map[string]bool)
	const page = 200
	for offset := 0; ; offset += page {
		videos, err := mc.db.ListVideos(page, offset)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			doc, err := mc.db.GetProgress(v.ID)
			if err != nil {
				continue
			}
			for _, c := range doc.Chunks {
				if c.RemotePath != "" {
					referenced[c.RemotePath] = true
				}
			}
		}
		if len(videos) < page {
			return referenced, nil
		}
	}
}

// ForceMaintenance manually triggers all jobs (for testing/admin use).
func (mc *MaintenanceCron) ForceMaintenance() {
	log.Println("[MaintenanceCron] 🔄 Manual maintenance triggered...")
	mc.requeueStaleVideos()
	mc.cleanupScratch()
	if mc.store != nil {
		mc.sweepOrphanedChunks()
	}
}

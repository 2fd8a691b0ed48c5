package cron

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"montazh/database"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeProcessor) Process(ctx context.Context, videoID string, scriptCharacters []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, videoID)
	return nil
}

func TestRequeueStaleVideos(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	old := time.Now().Add(-3 * time.Hour)
	for _, v := range []database.Video{
		{ID: "stale", UserID: "u1", Status: database.StatusProcessing, CreatedAt: old},
		{ID: "fresh", UserID: "u1", Status: database.StatusProcessing},
		{ID: "done", UserID: "u1", Status: database.StatusCompleted, CreatedAt: old},
	} {
		if err := db.CreateVideo(v); err != nil {
			t.Fatal(err)
		}
	}

	pipe := &fakeProcessor{}
	mc := NewMaintenanceCron(db, pipe, nil, t.TempDir(), 2*time.Hour)
	mc.requeueStaleVideos()

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.calls) != 1 || pipe.calls[0] != "stale" {
		t.Errorf("requeued = %v, want [stale]", pipe.calls)
	}
}

func TestCleanupScratch(t *testing.T) {
	scratch := t.TempDir()

	oldDir := filepath.Join(scratch, "video-old")
	newDir := filepath.Join(scratch, "video-new")
	for _, dir := range []string{oldDir, newDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, stale, stale); err != nil {
		t.Fatal(err)
	}

	mc := NewMaintenanceCron(nil, nil, nil, scratch, time.Hour)
	mc.cleanupScratch()

	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("old scratch directory survived cleanup")
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Error("fresh scratch directory was removed")
	}
}

type fakeChunkStore struct {
	objects []*s3.Object
	mu      sync.Mutex
	deleted []string
}

func (f *fakeChunkStore) ListObjects(ctx context.Context, prefix string) ([]*s3.Object, error) {
	return f.objects, nil
}

func (f *fakeChunkStore) DeleteObject(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, remotePath)
	return nil
}

func TestSweepOrphanedChunks(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	err = db.CreateVideo(database.Video{ID: "v1", UserID: "u1", Status: database.StatusProcessing})
	if err != nil {
		t.Fatal(err)
	}
	doc := &database.ProgressDocument{
		TotalChunks: 1,
		Chunks:      []database.ChunkProgress{{Index: 0, RemotePath: "u1/chunks/0_abc.mp4"}},
	}
	if _, err := db.TryInitProgress("v1", doc); err != nil {
		t.Fatal(err)
	}

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	store := &fakeChunkStore{objects: []*s3.Object{
		{Key: aws.String("u1/chunks/0_abc.mp4"), LastModified: aws.Time(old)},   // referenced
		{Key: aws.String("u1/chunks/1_old.mp4"), LastModified: aws.Time(old)},   // orphan, old
		{Key: aws.String("u2/chunks/0_new.mp4"), LastModified: aws.Time(fresh)}, // orphan, too fresh
	}}

	mc := NewMaintenanceCron(db, nil, store, t.TempDir(), time.Hour)
	mc.sweepOrphanedChunks()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deleted) != 1 || store.deleted[0] != "u1/chunks/1_old.mp4" {
		t.Errorf("deleted = %v, want only the old orphan", store.deleted)
	}
}

func TestStartStop(t *testing.T) {
	mc := NewMaintenanceCron(nil, nil, nil, t.TempDir(), time.Hour)
	if err := mc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !mc.IsRunning() {
		t.Error("cron should be running")
	}
	if err := mc.Start(); err != nil {
		t.Errorf("second Start: %v", err)
	}
	mc.Stop()
	if mc.IsRunning() {
		t.Error("cron should be stopped")
	}
}

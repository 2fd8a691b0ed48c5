// Package splitter cuts a source video into chunk files and uploads them
// to object storage.
package splitter

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"montazh/planner"
	"montazh/storage"
)

const (
	// Uploads run in batches of this many concurrent transfers.
	uploadBatchSize = 2
	// Attempts per chunk upload.
	maxUploadAttempts = 3
	// Signed chunk URLs must outlive the longest analysis run.
	signedURLTTL = 24 * time.Hour
)

// Chunk is one uploaded piece of the source video.
type Chunk struct {
	Index      int
	Window     planner.Window
	RemotePath string
	SignedURL  string
}

// Splitter cuts with ffmpeg and uploads through ObjectStorage.
type Splitter struct {
	store      storage.ObjectStorage
	scratchDir string
	httpClient *http.Client
}

// New creates a Splitter writing intermediate files under scratchDir.
func New(store storage.ObjectStorage, scratchDir string) *Splitter {
	return &Splitter{
		store:      store,
		scratchDir: scratchDir,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
}

// Fetch makes the source available locally: remote URLs are downloaded
// into the video's scratch dir, local paths are used as-is. The cleanup
// function removes the scratch dir and must run whether or not the rest
// of the pipeline succeeds.
func (s *Splitter) Fetch(ctx context.Context, videoID, sourceURL string) (string, func(), error) {
	workDir, err := storage.EnsurePath(s.scratchDir, videoID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir: %v", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[Splitter] Failed to clean scratch dir %s: %v", workDir, err)
		}
	}

	if !strings.HasPrefix(sourceURL, "http://") && !strings.HasPrefix(sourceURL, "https://") {
		if _, err := os.Stat(sourceURL); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("source file not accessible: %v", err)
		}
		return sourceURL, cleanup, nil
	}

	localPath := filepath.Join(workDir, "source.mp4")
	if err := s.download(ctx, sourceURL, localPath); err != nil {
		cleanup()
		return "", nil, err
	}
	return localPath, cleanup, nil
}

func (s *Splitter) download(ctx context.Context, sourceURL, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build source request: %v", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download source: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create source file: %v", err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write source file: %v", err)
	}
	log.Printf("[Splitter] Downloaded source (%.2f MB)", float64(written)/1024/1024)
	return nil
}

// Split cuts the local source into one file per window and uploads them
// all, returning signed URLs for the analyzer.
func (s *Splitter) Split(ctx context.Context, videoID, userID, sourcePath string, windows []planner.Window) ([]Chunk, error) {
	workDir, err := storage.EnsurePath(s.scratchDir, videoID, "chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("[Splitter] Failed to clean chunk dir %s: %v", workDir, err)
		}
	}()

	chunks := make([]Chunk, len(windows))
	for _, w := range windows {
		localPath := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.mp4", w.Index))
		if err := cutChunk(ctx, sourcePath, localPath, w); err != nil {
			return nil, fmt.Errorf("failed to cut chunk %d: %v", w.Index, err)
		}
		nonce := uuid.New().String()[:8]
		chunks[w.Index] = Chunk{
			Index:      w.Index,
			Window:     w,
			RemotePath: fmt.Sprintf("%s/chunks/%d_%s.mp4", userID, w.Index, nonce),
		}
	}

	log.Printf("[Splitter] Cut %d chunks for video %s, uploading in batches of %d",
		len(chunks), videoID, uploadBatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadBatchSize)
	for i := range chunks {
		i := i
		g.Go(func() error {
			localPath := filepath.Join(workDir, fmt.Sprintf("chunk_%03d.mp4", chunks[i].Index))
			if err := s.uploadWithRetry(gctx, localPath, chunks[i].RemotePath); err != nil {
				return fmt.Errorf("chunk %d upload failed: %v", chunks[i].Index, err)
			}
			url, err := s.store.CreateSignedURL(chunks[i].RemotePath, signedURLTTL)
			if err != nil {
				return fmt.Errorf("chunk %d signed URL failed: %v", chunks[i].Index, err)
			}
			chunks[i].SignedURL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("[Splitter] ✅ All %d chunks uploaded for video %s", len(chunks), videoID)
	return chunks, nil
}

// uploadWithRetry retries a chunk upload with exponential backoff.
func (s *Splitter) uploadWithRetry(ctx context.Context, localPath, remotePath string) error {
	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		lastErr = s.store.Upload(ctx, localPath, remotePath, "video/mp4", true)
		if lastErr == nil {
			return nil
		}
		log.Printf("[Splitter] Upload attempt %d/%d failed for %s: %v",
			attempt, maxUploadAttempts, remotePath, lastErr)
		if attempt < maxUploadAttempts {
			// Exponential backoff: 2s, 4s, ...
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %v", maxUploadAttempts, lastErr)
}

// cutChunk extracts one window with a stream copy. No re-encode: cuts
// land on the nearest keyframe, which is acceptable for analysis chunks.
func cutChunk(ctx context.Context, sourcePath, outPath string, w planner.Window) error {
	args := []string{
		"-ss", fmt.Sprintf("%.3f", w.Start),
		"-i", sourcePath,
		"-t", fmt.Sprintf("%.3f", w.Duration()),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		"-y",
		outPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg error: %v\nOutput: %s", err, string(output))
	}
	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced no output for window [%g, %g)", w.Start, w.End)
	}
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"montazh/analyzer"
	"montazh/database"
	"montazh/prompt"
	"montazh/reconcile"
	"montazh/registry"
)

// Attempts per chunk against temporary analyzer failures.
const maxTemporaryRetries = 3

var temporaryBackoff = analyzer.TemporaryBackoff

// drive processes all non-terminal chunks, runs the single retry pass,
// and finalizes or fails the video.
func (p *Pipeline) drive(ctx context.Context, videoID string, doc *database.ProgressDocument) error {
	// A document without chunks is another worker's init placeholder.
	// Leave the video alone; the owner (or a later requeue) finishes it.
	if len(doc.Chunks) == 0 {
		log.Printf("[Pipeline] Video %s is still being initialized, nothing to drive", videoID)
		return nil
	}

	reg := registry.Load(doc.CharacterRegistry, doc.ScriptData)

	runnable := nonTerminalChunks(doc)
	if err := p.runChunks(ctx, videoID, doc, runnable, reg); err != nil {
		return err
	}

	// One retry pass over failed chunks, only when the damage is small.
	doc, err := p.db.GetProgress(videoID)
	if err != nil {
		return err
	}
	failed := chunksByStatus(doc, database.ChunkFailed)
	if n := len(failed); n > 0 && n <= p.cfg.MaxRetryFailures {
		log.Printf("[Pipeline] Retrying %d failed chunks for video %s", n, videoID)
		if err := p.runChunks(ctx, videoID, doc, failed, reg); err != nil {
			return err
		}
		doc, err = p.db.GetProgress(videoID)
		if err != nil {
			return err
		}
	}

	if doc.CompletedFraction() >= p.cfg.MinCompletedFraction {
		return p.finalize(videoID, doc)
	}

	msg := fmt.Sprintf("only %d of %d chunks completed", doc.CountByStatus(database.ChunkCompleted), len(doc.Chunks))
	log.Printf("[Pipeline] ❌ Video %s below completion threshold: %s", videoID, msg)
	return p.db.UpdateVideoStatus(videoID, database.StatusFailed, msg)
}

// runChunks processes the given chunk indexes, sequentially by default.
// The bounded-parallel profile freezes the registry per batch and merges
// observations afterward, trading some cross-chunk identity propagation
// for wall-clock time.
func (p *Pipeline) runChunks(ctx context.Context, videoID string, doc *database.ProgressDocument, indexes []int, reg *registry.Registry) error {
	if len(indexes) == 0 {
		return nil
	}

	batch := p.cfg.BatchSize
	if batch > p.pool.Size() {
		batch = p.pool.Size()
	}

	if batch <= 1 {
		for _, idx := range indexes {
			doc, err := p.db.GetProgress(videoID)
			if err != nil {
				return err
			}
			p.persistRegistry(videoID, doc, reg)
			if err := p.processChunk(ctx, videoID, doc, idx, reg); err != nil {
				log.Printf("[Pipeline] Chunk %d of video %s failed: %v", idx, videoID, err)
			}
		}
		// Names observed in the last chunk must land in the document too.
		if doc, err := p.db.GetProgress(videoID); err == nil {
			p.persistRegistry(videoID, doc, reg)
		}
		return nil
	}

	p.persistRegistry(videoID, doc, reg)
	frozen := reg.Clone()
	locals := make([]*registry.Registry, len(indexes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batch)
	for i, idx := range indexes {
		i, idx := i, idx
		locals[i] = frozen.Clone()
		g.Go(func() error {
			if err := p.processChunk(gctx, videoID, doc, idx, locals[i]); err != nil {
				log.Printf("[Pipeline] Chunk %d of video %s failed: %v", idx, videoID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, local := range locals {
		reg.Merge(local)
	}
	if doc, err := p.db.GetProgress(videoID); err == nil {
		p.persistRegistry(videoID, doc, reg)
	}
	return nil
}

func (p *Pipeline) persistRegistry(videoID string, doc *database.ProgressDocument, reg *registry.Registry) {
	doc.CharacterRegistry = reg.Characters()
	if err := p.db.SaveProgress(videoID, doc); err != nil {
		log.Printf("[Pipeline] Failed to persist registry for %s: %v", videoID, err)
	}
}

// processChunk runs one chunk through prompt, analyzer, parser,
// reconciler and entry insertion. Any failure transitions the chunk to
// failed with the error text and returns it.
func (p *Pipeline) processChunk(ctx context.Context, videoID string, doc *database.ProgressDocument, index int, reg *registry.Registry) error {
	chunk := doc.Chunk(index)
	if chunk == nil {
		return fmt.Errorf("chunk %d missing from progress document", index)
	}
	from := chunk.Status
	pm := p.metrics.Get(videoID)
	started := time.Now()

	if err := p.db.UpdateChunkStatus(videoID, index, from, database.ChunkProcessing, ""); err != nil {
		return err
	}
	fail := func(cause error) error {
		if pm != nil {
			pm.AddChunkResult(false, time.Since(started))
		}
		if err := p.db.UpdateChunkStatus(videoID, index, database.ChunkProcessing, database.ChunkFailed, cause.Error()); err != nil {
			log.Printf("[Pipeline] Failed to record chunk %d failure: %v", index, err)
		}
		return cause
	}

	if chunk.StorageURL == "" {
		return fail(fmt.Errorf("chunk %d has no storage URL", index))
	}

	segments := segmentsInWindow(doc.MergedScenes, chunk.StartSeconds, chunk.EndSeconds)
	promptText := prompt.Build(prompt.BuildInput{
		ChunkIndex:  index,
		TotalChunks: doc.TotalChunks,
		Segments:    segments,
		Registry:    reg.Format(),
	})

	log.Printf("[Pipeline] 🔄 Analyzing chunk %d/%d (%s) of video %s",
		index+1, doc.TotalChunks, chunkTimecodes(*chunk, doc.VideoFps), videoID)

	pred, err := p.analyze(ctx, chunk.StorageURL, promptText)
	if err != nil {
		return fail(err)
	}

	scenes := prompt.Parse(pred.Output)
	if len(scenes) == 0 {
		return fail(fmt.Errorf("no scenes parsed from analyzer response"))
	}

	final := reconcile.Reconcile(scenes, segments, chunk.StartSeconds, chunk.EndSeconds, doc.VideoFps)
	if len(final) == 0 {
		return fail(fmt.Errorf("all parsed scenes fell outside the chunk window"))
	}

	last, err := p.db.GetLastPlanNumber(doc.SheetID)
	if err != nil {
		return fail(err)
	}
	entries := make([]database.Entry, len(final))
	for i, s := range final {
		entries[i] = database.Entry{
			SheetID:       doc.SheetID,
			PlanNumber:    last + i + 1,
			OrderIndex:    last + i + 1,
			StartTimecode: s.Start,
			EndTimecode:   s.End,
			PlanType:      s.PlanType,
			Description:   s.Description,
			Dialogues:     s.Dialogues,
		}
	}
	if err := p.db.InsertEntries(entries); err != nil {
		return fail(err)
	}

	for _, s := range final {
		reg.Observe(s.Dialogues, index, s.Start)
	}

	if err := p.db.UpdateChunkStatus(videoID, index, database.ChunkProcessing, database.ChunkCompleted, ""); err != nil {
		return err
	}
	if pm != nil {
		pm.AddChunkResult(true, time.Since(started))
	}
	log.Printf("[Pipeline] ✅ Chunk %d of video %s completed: %d entries", index, videoID, len(entries))
	return nil
}

// analyze runs one chunk through the analyzer pool, retrying known
// temporary failures with quadratic backoff.
func (p *Pipeline) analyze(ctx context.Context, chunkURL, promptText string) (*analyzer.Prediction, error) {
	input := map[string]interface{}{
		"videos": []string{chunkURL},
		"prompt": promptText,
	}

	var lastErr error
	for attempt := 1; attempt <= maxTemporaryRetries; attempt++ {
		handle, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		pred, err := analyzer.CreatePredictionWithRetry(ctx, handle.Client, p.cfg.Model, input)
		if err == nil {
			switch pred.Status {
			case analyzer.StatusSucceeded:
				// Create returned a terminal result synchronously.
			case analyzer.StatusFailed, analyzer.StatusCanceled:
				err = fmt.Errorf("prediction ended as %s: %s", pred.Status, pred.Error)
			default:
				pred, err = analyzer.Poll(ctx, handle.Client, pred.ID)
			}
		}
		p.pool.Release(handle)

		if err == nil {
			p.pool.MarkSuccess(handle)
			return pred, nil
		}
		p.pool.MarkError(handle)

		msg := err.Error()
		if pred != nil && pred.Error != "" {
			msg = pred.Error
		}
		lastErr = fmt.Errorf("analysis failed: %s", msg)
		if !analyzer.IsTemporary(msg) || attempt == maxTemporaryRetries {
			return nil, lastErr
		}

		backoff := temporaryBackoff(attempt)
		log.Printf("[Pipeline] Temporary analyzer failure (%s), retrying in %v", msg, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func nonTerminalChunks(doc *database.ProgressDocument) []int {
	var out []int
	for _, c := range doc.Chunks {
		if c.Status == database.ChunkPending || c.Status == database.ChunkProcessing {
			out = append(out, c.Index)
		}
	}
	return out
}

func chunksByStatus(doc *database.ProgressDocument, status database.ChunkStatus) []int {
	var out []int
	for _, c := range doc.Chunks {
		if c.Status == status {
			out = append(out, c.Index)
		}
	}
	return out
}

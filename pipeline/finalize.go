package pipeline

import (
	"fmt"
	"log"

	"montazh/database"
)

// finalize turns the accumulated entries into the deliverable sheet:
// dedupe, renumber, validate, mark completed. It runs even for partially
// failed videos; a sparse sheet still ships. Any error here fails the
// video.
func (p *Pipeline) finalize(videoID string, doc *database.ProgressDocument) error {
	if pm := p.metrics.Get(videoID); pm != nil {
		pm.StartFinalize()
		defer pm.EndFinalize()
	}
	if err := p.runFinalization(videoID, doc); err != nil {
		log.Printf("[Pipeline] ❌ Finalization failed for %s: %v", videoID, err)
		if dbErr := p.db.UpdateVideoStatus(videoID, database.StatusFailed, fmt.Sprintf("finalization: %v", err)); dbErr != nil {
			log.Printf("[Pipeline] Failed to record finalization failure: %v", dbErr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) runFinalization(videoID string, doc *database.ProgressDocument) error {
	entries, err := p.db.ListEntries(doc.SheetID)
	if err != nil {
		return err
	}

	duplicates := FindDuplicates(entries, doc.VideoFps)
	if len(duplicates) > 0 {
		log.Printf("[Pipeline] 🧹 Removing %d duplicate entries from sheet %s", len(duplicates), doc.SheetID)
		if err := p.db.DeleteEntries(duplicates); err != nil {
			return err
		}
	}

	if err := p.db.RenumberEntries(doc.SheetID); err != nil {
		return err
	}

	entries, err = p.db.ListEntries(doc.SheetID)
	if err != nil {
		return err
	}

	video, err := p.db.GetVideo(videoID)
	if err != nil {
		return err
	}
	for _, w := range Validate(entries, doc.VideoFps, video.Duration) {
		log.Printf("[Validate] Video %s: %s", videoID, w)
	}

	if err := p.db.MarkVideoCompleted(videoID); err != nil {
		return err
	}
	log.Printf("[Pipeline] ✅ Video %s completed: %d plans on sheet %s", videoID, len(entries), doc.SheetID)
	return nil
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"montazh/database"
	"montazh/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createVideoRequest struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId" binding:"required"`
	Filename    string  `json:"filename"`
	StoragePath string  `json:"storagePath" binding:"required"`
	Duration    float64 `json:"duration" binding:"required"`
	Fps         float64 `json:"fps"`
}

// createVideo registers an uploaded source video. Processing starts via
// a separate trigger so large batches can be registered first.
func (s *Server) createVideo(c *gin.Context) {
	var req createVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	video := database.Video{
		ID:          req.ID,
		UserID:      req.UserID,
		Filename:    req.Filename,
		StoragePath: req.StoragePath,
		Duration:    req.Duration,
		Fps:         req.Fps,
		Status:      database.StatusUploaded,
	}
	if err := s.db.CreateVideo(video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create video: %v", err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": video.ID, "status": video.Status})
}

func (s *Server) listVideos(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	videos, err := s.db.ListVideos(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list videos: %v", err)})
		return
	}

	out := make([]gin.H, 0)
	for _, v := range videos {
		out = append(out, gin.H{
			"id":        v.ID,
			"userId":    v.UserID,
			"filename":  v.Filename,
			"duration":  v.Duration,
			"status":    v.Status,
			"createdAt": v.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"videos": out})
}

func (s *Server) getVideo(c *gin.Context) {
	video, err := s.db.GetVideo(c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("Failed to get video: %v", err)})
		return
	}
	c.JSON(http.StatusOK, video)
}

type processRequest struct {
	ScriptCharacters []string `json:"scriptCharacters"`
}

// processVideo starts the pipeline for a video in the background and
// returns immediately. A duplicate trigger on a running video is safe:
// the init lock makes the loser resume, and a completed video is left
// alone.
func (s *Server) processVideo(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.db.GetVideo(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("Failed to get video: %v", err)})
		return
	}

	var req processRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
			return
		}
	}

	go func() {
		if err := s.pipe.Process(context.Background(), id, req.ScriptCharacters); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyCompleted) {
				log.Printf("[API] Duplicate trigger for completed video %s ignored", id)
				return
			}
			log.Printf("[API] Processing failed for video %s: %v", id, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "processing"})
}

func (s *Server) getProgress(c *gin.Context) {
	id := c.Param("id")
	video, err := s.db.GetVideo(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("Failed to get video: %v", err)})
		return
	}

	doc, err := s.db.GetProgress(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{
			"id":     id,
			"status": video.Status,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get progress: %v", err)})
		return
	}

	chunks := make([]gin.H, 0, len(doc.Chunks))
	for _, ch := range doc.Chunks {
		chunk := gin.H{
			"index":    ch.Index,
			"start":    ch.StartTimecode,
			"end":      ch.EndTimecode,
			"status":   ch.Status,
			"attempts": ch.Attempts,
		}
		if ch.ErrorMessage != "" {
			chunk["error"] = ch.ErrorMessage
		}
		chunks = append(chunks, chunk)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              id,
		"status":          video.Status,
		"totalChunks":     doc.TotalChunks,
		"completedChunks": doc.CompletedChunks,
		"currentChunk":    doc.CurrentChunk,
		"fps":             doc.VideoFps,
		"chunks":          chunks,
		"updatedAt":       doc.UpdatedAt,
	})
}

func (s *Server) getEntries(c *gin.Context) {
	id := c.Param("id")
	sheet, err := s.db.GetSheetByVideo(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("Failed to get sheet: %v", err)})
		return
	}

	entries, err := s.db.ListEntries(sheet.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list entries: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sheetId": sheet.ID,
		"title":   sheet.Title,
		"entries": entries,
	})
}

// deleteVideo removes the video, its sheet and entries, and the uploaded
// chunk objects. Storage failures are logged, not fatal: the orphan
// sweep picks leftovers up later.
func (s *Server) deleteVideo(c *gin.Context) {
	id := c.Param("id")

	doc, err := s.db.GetProgress(id)
	if err == nil {
		for _, ch := range doc.Chunks {
			if ch.RemotePath == "" {
				continue
			}
			if err := s.store.DeleteObject(c.Request.Context(), ch.RemotePath); err != nil {
				log.Printf("[API] Failed to delete chunk object %s: %v", ch.RemotePath, err)
			}
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get progress: %v", err)})
		return
	}

	if err := s.db.DeleteVideo(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete video: %v", err)})
		return
	}
	log.Printf("[API] 🧹 Deleted video %s", id)
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

package api

import (
	"net/http"
	"runtime"
	"time"

	"montazh/database"
	"montazh/monitoring"

	"github.com/gin-gonic/gin"
)

// getSystemHealth reports service status for deployment checks: database
// connectivity, processing backlog and process resource usage.
func (s *Server) getSystemHealth(c *gin.Context) {
	startTime := time.Now()
	health := gin.H{
		"status":    "healthy",
		"timestamp": startTime.UTC().Format(time.RFC3339),
	}

	videos, err := s.db.ListVideos(100, 0)
	if err != nil {
		health["status"] = "unhealthy"
		health["database"] = gin.H{"status": "failed", "error": err.Error()}
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	health["database"] = gin.H{"status": "connected"}

	counts := map[database.VideoStatus]int{}
	for _, v := range videos {
		counts[v.Status]++
	}
	health["videos"] = gin.H{
		"uploaded":   counts[database.StatusUploaded],
		"processing": counts[database.StatusProcessing],
		"completed":  counts[database.StatusCompleted],
		"failed":     counts[database.StatusFailed],
	}

	if usage, err := monitoring.Snapshot(); err == nil {
		health["system"] = usage
	} else {
		health["system"] = gin.H{
			"goroutines": runtime.NumGoroutine(),
			"error":      err.Error(),
		}
	}

	health["response_time_ms"] = time.Since(startTime).Milliseconds()
	c.JSON(http.StatusOK, health)
}

package api

import (
	"errors"
	"fmt"
	"net/http"

	"montazh/database"

	"github.com/gin-gonic/gin"
)

// getConfig returns all runtime-tunable settings, or one by ?key=.
func (s *Server) getConfig(c *gin.Context) {
	if key := c.Query("key"); key != "" {
		value, err := s.db.GetConfig(key)
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Config key %s not found", key)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get config: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
		return
	}

	all, err := s.db.GetAllConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get config: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": all})
}

type setConfigRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// setConfig stores one setting. It takes effect on the next pipeline
// run, when the overrides are reloaded.
func (s *Server) setConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	if err := s.db.SetConfig(req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to set config: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "value": req.Value})
}

func (s *Server) deleteConfig(c *gin.Context) {
	key := c.Param("key")
	if err := s.db.DeleteConfig(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete config: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "deleted": true})
}

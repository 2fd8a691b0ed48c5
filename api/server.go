// Package api exposes the HTTP surface: video registration, pipeline
// triggers, progress and sheet queries, and runtime configuration.
package api

import (
	"context"
	"fmt"

	"montazh/config"
	"montazh/database"
	"montazh/storage"

	"github.com/gin-gonic/gin"
)

// Processor triggers the processing pipeline for one video. Satisfied by
// pipeline.Pipeline; tests use a fake.
type Processor interface {
	Process(ctx context.Context, videoID string, scriptCharacters []string) error
}

type Server struct {
	config config.Config
	db     database.Database
	store  storage.ObjectStorage
	pipe   Processor
}

func NewServer(cfg config.Config, db database.Database, store storage.ObjectStorage, pipe Processor) *Server {
	return &Server{
		config: cfg,
		db:     db,
		store:  store,
		pipe:   pipe,
	}
}

func (s *Server) Start() {
	r := gin.Default()
	s.setupCORS(r)
	s.setupRoutes(r)
	portAddr := ":" + s.config.ServerPort
	fmt.Printf("Starting API server on %s\n", portAddr)
	r.Run(portAddr)
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/videos", s.createVideo)
		api.GET("/videos", s.listVideos)
		api.GET("/videos/:id", s.getVideo)
		api.POST("/videos/:id/process", s.processVideo)
		api.GET("/videos/:id/progress", s.getProgress)
		api.GET("/videos/:id/entries", s.getEntries)
		api.DELETE("/videos/:id", s.deleteVideo)

		api.GET("/config", s.getConfig)
		api.POST("/config", s.setConfig)
		api.DELETE("/config/:key", s.deleteConfig)

		api.GET("/system_health", s.getSystemHealth)
	}
}

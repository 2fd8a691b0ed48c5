package main

import (
	"fmt"
	"log"
	"time"

	"montazh/analyzer"
	"montazh/api"
	"montazh/config"
	"montazh/credits"
	"montazh/cron"
	"montazh/database"
	"montazh/detector"
	"montazh/monitoring"
	"montazh/pipeline"
	"montazh/splitter"
	"montazh/storage"

	"github.com/joho/godotenv"
)

func main() {

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	// Load config
	cfg := config.LoadConfig()

	// Ensure all required directories exist
	config.EnsurePaths(cfg)

	// Initialize database
	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database:", err)
	}
	defer db.Close()

	// Apply runtime-tunable overrides stored in the config table
	cfg.ApplyDatabaseOverrides(db)

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// Initialize R2 storage
	r2Storage, err := storage.NewR2Storage(cfg.R2Config())
	if err != nil {
		log.Fatal("Failed to initialize R2 storage:", err)
	}

	// Initialize analyzer pool, one client per API token
	clients := make(map[string]analyzer.PredictionClient, len(cfg.AnalyzerTokens))
	for i, token := range cfg.AnalyzerTokens {
		key := fmt.Sprintf("token-%d", i+1)
		clients[key] = analyzer.NewHTTPClient(cfg.AnalyzerBaseURL, token)
	}
	pool, err := analyzer.NewPool(clients)
	if err != nil {
		log.Fatal("Failed to initialize analyzer pool:", err)
	}

	// Initialize scene detector. A missing tool is not fatal: the
	// pipeline falls back to one scene per chunk.
	var det detector.ShotDetector
	sceneDetect, err := detector.NewSceneDetect(cfg.DetectorOptions())
	if err != nil {
		log.Printf("Scene detector unavailable (%v), using chunk-window fallback", err)
		det = detector.Unavailable{}
	} else {
		det = sceneDetect
	}

	// Assemble the pipeline
	split := splitter.New(r2Storage, cfg.ScratchDir)
	pipe := pipeline.New(db, split, det, pool, pipeline.Config{
		Model:                cfg.AnalyzerModel,
		ChunkSeconds:         cfg.ChunkSeconds,
		BatchSize:            cfg.BatchSize,
		DefaultFps:           cfg.DefaultFps,
		MaxRetryFailures:     cfg.MaxRetryFailures,
		MinCompletedFraction: cfg.MinCompletedFraction,
		MergeCredits:         cfg.MergeCredits,
		Credits:              credits.DefaultConfig(),
	})

	// Start background maintenance
	maintenance := cron.NewMaintenanceCron(db, pipe, r2Storage, cfg.ScratchDir,
		time.Duration(cfg.StaleProcessingMinutes)*time.Minute)
	if err := maintenance.Start(); err != nil {
		log.Fatal("Failed to start maintenance cron:", err)
	}
	defer maintenance.Stop()

	monitoring.StartMonitoring(5 * time.Minute)

	// Start web server
	server := api.NewServer(cfg, db, r2Storage, pipe)
	server.Start()
}

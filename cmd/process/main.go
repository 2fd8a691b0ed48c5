// Command process drives one video through the pipeline from the
// command line, for operators and for reprocessing failed videos
// without the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"montazh/analyzer"
	"montazh/config"
	"montazh/credits"
	"montazh/database"
	"montazh/detector"
	"montazh/pipeline"
	"montazh/splitter"
	"montazh/storage"
)

func main() {
	videoID := flag.String("video", "", "Existing video ID to (re)process")
	source := flag.String("source", "", "Source video URL or local path (registers a new video)")
	userID := flag.String("user", "cli", "User ID for a newly registered video")
	duration := flag.Float64("duration", 0, "Source duration in seconds (required with -source)")
	script := flag.String("script", "", "Comma-separated script character names")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: .env file not found at %s, using environment variables", *envFile)
	}

	cfg := config.LoadConfig()
	config.EnsurePaths(cfg)

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	cfg.ApplyDatabaseOverrides(db)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	id := *videoID
	if id == "" {
		if *source == "" || *duration <= 0 {
			log.Fatal("Provide -video to reprocess, or -source with -duration to register a new one")
		}
		id = uuid.New().String()
		err := db.CreateVideo(database.Video{
			ID:          id,
			UserID:      *userID,
			Filename:    *source,
			StoragePath: *source,
			Duration:    *duration,
			Status:      database.StatusUploaded,
		})
		if err != nil {
			log.Fatalf("Failed to register video: %v", err)
		}
		log.Printf("Registered video %s", id)
	}

	r2Storage, err := storage.NewR2Storage(cfg.R2Config())
	if err != nil {
		log.Fatalf("Failed to initialize R2 storage: %v", err)
	}

	clients := make(map[string]analyzer.PredictionClient, len(cfg.AnalyzerTokens))
	for i, token := range cfg.AnalyzerTokens {
		clients[fmt.Sprintf("token-%d", i+1)] = analyzer.NewHTTPClient(cfg.AnalyzerBaseURL, token)
	}
	pool, err := analyzer.NewPool(clients)
	if err != nil {
		log.Fatalf("Failed to initialize analyzer pool: %v", err)
	}

	var det detector.ShotDetector
	sceneDetect, err := detector.NewSceneDetect(cfg.DetectorOptions())
	if err != nil {
		log.Printf("Scene detector unavailable (%v), using chunk-window fallback", err)
		det = detector.Unavailable{}
	} else {
		det = sceneDetect
	}

	pipe := pipeline.New(db, splitter.New(r2Storage, cfg.ScratchDir), det, pool, pipeline.Config{
		Model:                cfg.AnalyzerModel,
		ChunkSeconds:         cfg.ChunkSeconds,
		BatchSize:            cfg.BatchSize,
		DefaultFps:           cfg.DefaultFps,
		MaxRetryFailures:     cfg.MaxRetryFailures,
		MinCompletedFraction: cfg.MinCompletedFraction,
		MergeCredits:         cfg.MergeCredits,
		Credits:              credits.DefaultConfig(),
	})

	var scriptCharacters []string
	for _, name := range strings.Split(*script, ",") {
		if name = strings.TrimSpace(name); name != "" {
			scriptCharacters = append(scriptCharacters, name)
		}
	}

	if err := pipe.Process(context.Background(), id, scriptCharacters); err != nil {
		log.Fatalf("Processing failed: %v", err)
	}

	printSheet(db, id)
}

func printSheet(db *database.SQLiteDB, videoID string) {
	sheet, err := db.GetSheetByVideo(videoID)
	if err != nil {
		log.Printf("No sheet for video %s: %v", videoID, err)
		return
	}
	entries, err := db.ListEntries(sheet.ID)
	if err != nil {
		log.Printf("Failed to list entries: %v", err)
		return
	}

	fmt.Fprintf(os.Stdout, "Sheet %s (%s): %d plans\n", sheet.ID, sheet.Title, len(entries))
	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "%4d  %s - %s  %-5s %s\n",
			e.PlanNumber, e.StartTimecode, e.EndTimecode, e.PlanType, e.Description)
	}
}

// Package config loads the application configuration from environment
// variables, with runtime-tunable overrides from the database config
// table.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"montazh/database"
	"montazh/detector"
	"montazh/storage"
)

// Config contains all configuration for the application.
type Config struct {
	// Server Configuration
	ServerPort string
	BaseURL    string

	// Database Configuration
	DatabasePath string

	// Local scratch space for downloads and chunk cutting
	ScratchDir string

	// R2 Storage Configuration
	R2AccessKey string
	R2SecretKey string
	R2AccountID string
	R2Bucket    string
	R2Region    string
	R2Endpoint  string
	R2BaseURL   string

	// Analyzer Configuration
	AnalyzerBaseURL string
	AnalyzerModel   string
	AnalyzerTokens  []string // one pool client per token

	// Pipeline Configuration
	ChunkSeconds         float64
	BatchSize            int // 1 = sequential conservative profile
	DefaultFps           float64
	MaxRetryFailures     int
	MinCompletedFraction float64
	MergeCredits         bool

	// Detector Configuration
	DetectorThreshold   float64
	DetectorMinSceneLen float64
	DetectorMaxScenes   int

	// Maintenance Configuration
	StaleProcessingMinutes int // requeue processing videos older than this
}

// LoadConfig loads configuration from environment variables. Analyzer
// tokens come from ANALYZER_API_TOKEN plus the numbered series
// ANALYZER_API_TOKEN_1, ANALYZER_API_TOKEN_2, ...
func LoadConfig() Config {
	cfg := Config{
		ServerPort:   getEnv("SERVER_PORT", "3000"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:3000"),
		DatabasePath: getEnv("DATABASE_PATH", "./data/montazh.db"),
		ScratchDir:   getEnv("SCRATCH_DIR", "./scratch"),

		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_KEY", ""),
		R2AccountID: getEnv("R2_ACCOUNT_ID", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Region:    getEnv("R2_REGION", "auto"),
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2BaseURL:   getEnv("R2_BASE_URL", ""),

		AnalyzerBaseURL: getEnv("ANALYZER_BASE_URL", "https://api.replicate.com/v1"),
		AnalyzerModel:   getEnv("ANALYZER_MODEL", ""),
		AnalyzerTokens:  analyzerTokens(),

		ChunkSeconds:         getEnvFloat("CHUNK_SECONDS", 180),
		BatchSize:            getEnvInt("BATCH_SIZE", 1),
		DefaultFps:           getEnvFloat("DEFAULT_FPS", 24),
		MaxRetryFailures:     getEnvInt("MAX_RETRY_FAILURES", 5),
		MinCompletedFraction: getEnvFloat("MIN_COMPLETED_FRACTION", 0.5),
		MergeCredits:         getEnvBool("MERGE_CREDITS", true),

		DetectorThreshold:   getEnvFloat("DETECTOR_THRESHOLD", 1.8),
		DetectorMinSceneLen: getEnvFloat("DETECTOR_MIN_SCENE_LEN", 0.25),
		DetectorMaxScenes:   getEnvInt("DETECTOR_MAX_SCENES", 5000),

		StaleProcessingMinutes: getEnvInt("STALE_PROCESSING_MINUTES", 120),
	}

	log.Printf("[Config] Server on port %s, database %s", cfg.ServerPort, cfg.DatabasePath)
	log.Printf("[Config] Analyzer: %d tokens, model %q", len(cfg.AnalyzerTokens), cfg.AnalyzerModel)
	log.Printf("[Config] Pipeline: chunk %gs, batch %d", cfg.ChunkSeconds, cfg.BatchSize)
	return cfg
}

// ApplyDatabaseOverrides replaces selected settings with values from the
// config table, so they can be tuned without a restart of the deployment
// environment.
func (cfg *Config) ApplyDatabaseOverrides(db database.Database) {
	overrides := map[string]func(string){
		"analyzer_model":         func(v string) { cfg.AnalyzerModel = v },
		"batch_size":             func(v string) { setInt(&cfg.BatchSize, v) },
		"max_retry_failures":     func(v string) { setInt(&cfg.MaxRetryFailures, v) },
		"min_completed_fraction": func(v string) { setFloat(&cfg.MinCompletedFraction, v) },
		"chunk_seconds":          func(v string) { setFloat(&cfg.ChunkSeconds, v) },
		"detector_threshold":     func(v string) { setFloat(&cfg.DetectorThreshold, v) },
	}

	all, err := db.GetAllConfig()
	if err != nil {
		log.Printf("[Config] Failed to load overrides from database: %v", err)
		return
	}
	for key, apply := range overrides {
		if v, ok := all[key]; ok && v != "" {
			apply(v)
			log.Printf("[Config] Override from database: %s = %s", key, v)
		}
	}
}

// R2Config assembles the object storage configuration.
func (cfg Config) R2Config() storage.R2Config {
	return storage.R2Config{
		AccessKey: cfg.R2AccessKey,
		SecretKey: cfg.R2SecretKey,
		AccountID: cfg.R2AccountID,
		Bucket:    cfg.R2Bucket,
		Region:    cfg.R2Region,
		Endpoint:  cfg.R2Endpoint,
		BaseURL:   cfg.R2BaseURL,
	}
}

// DetectorOptions assembles the scene detector parameters.
func (cfg Config) DetectorOptions() detector.Options {
	return detector.Options{
		AdaptiveThreshold: cfg.DetectorThreshold,
		MinSceneDuration:  cfg.DetectorMinSceneLen,
		MaxScenes:         cfg.DetectorMaxScenes,
	}
}

// Validate reports the settings without which the service cannot run.
func (cfg Config) Validate() error {
	if len(cfg.AnalyzerTokens) == 0 {
		return fmt.Errorf("no analyzer tokens configured (set ANALYZER_API_TOKEN or ANALYZER_API_TOKEN_1)")
	}
	if cfg.AnalyzerModel == "" {
		return fmt.Errorf("ANALYZER_MODEL is not set")
	}
	if cfg.R2AccessKey == "" || cfg.R2SecretKey == "" || cfg.R2Bucket == "" {
		return fmt.Errorf("R2 storage is not fully configured")
	}
	return nil
}

// EnsurePaths creates the directories the service writes to.
func EnsurePaths(cfg Config) {
	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("[Config] Failed to create directory %s: %v", dir, err)
		}
	}
}

func analyzerTokens() []string {
	var tokens []string
	if t := os.Getenv("ANALYZER_API_TOKEN"); t != "" {
		tokens = append(tokens, t)
	}
	for i := 1; ; i++ {
		t := os.Getenv(fmt.Sprintf("ANALYZER_API_TOKEN_%d", i))
		if t == "" {
			break
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("[Config] Invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("[Config] Invalid number for %s: %q, using %g", key, value, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("[Config] Invalid boolean for %s: %q, using %v", key, value, fallback)
	}
	return fallback
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

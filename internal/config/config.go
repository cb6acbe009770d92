package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	// Google OAuth client used for mailbox access token refresh.
	GoogleClientID     string
	GoogleClientSecret string

	// Gemini model used for transaction extraction.
	GeminiModel string

	// Firestore project backing the budget store. Empty selects the
	// in-memory store (local runs and tests).
	FirestoreProject string

	// Optional GCS bucket for archiving raw message bodies. Empty disables
	// archiving.
	ArchiveBucket string

	// Sync tuning.
	SyncInterval     time.Duration
	MaxMessages      int64
	FetchConcurrency int
	RunTimeout       time.Duration

	// HTTP server port (cmd/api).
	Port string
}

// Load reads configuration from the environment, with an optional .env file.
// Only the OAuth client credentials are required.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		FirestoreProject:   os.Getenv("FIRESTORE_PROJECT"),
		ArchiveBucket:      os.Getenv("ARCHIVE_BUCKET"),
		SyncInterval:       getDuration("SYNC_INTERVAL", 15*time.Minute),
		MaxMessages:        getInt64("SYNC_MAX_MESSAGES", 25),
		FetchConcurrency:   int(getInt64("SYNC_FETCH_CONCURRENCY", 4)),
		RunTimeout:         getDuration("SYNC_RUN_TIMEOUT", 10*time.Minute),
		Port:               getEnv("PORT", "8080"),
	}

	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

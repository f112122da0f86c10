package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	HTTPAddr           string
	WakeEndpoint       string // URL the trigger dispatcher POSTs to
	PollInterval       int    // seconds; pull fallback for lost triggers
	SweepInterval      int    // seconds
	ClaimTimeout       int    // seconds before a claim is considered abandoned
	MaxAttempts        int
	SyncWindowDays     int // how far back the initial sync reaches
	ChunkWindowDays    int // size of one chunk's date window
	PagesPerClaim      int // mailbox pages fetched per claim before yielding a cursor
	ShutdownTimeout    int // seconds
	GoogleClientID     string
	GoogleClientSecret string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID == "" || googleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Gmail API will not work")
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	wakeEndpoint := os.Getenv("WAKE_ENDPOINT")
	if wakeEndpoint == "" {
		wakeEndpoint = "http://localhost:8080/internal/wake"
	}

	return &Config{
		DatabaseURL:        dbURL,
		HTTPAddr:           httpAddr,
		WakeEndpoint:       wakeEndpoint,
		PollInterval:       getEnvInt("POLL_INTERVAL", 10),
		SweepInterval:      getEnvInt("SWEEP_INTERVAL", 60),
		ClaimTimeout:       getEnvInt("CLAIM_TIMEOUT", 300),
		MaxAttempts:        getEnvInt("MAX_ATTEMPTS", 3),
		SyncWindowDays:     getEnvInt("SYNC_WINDOW_DAYS", 365),
		ChunkWindowDays:    getEnvInt("CHUNK_WINDOW_DAYS", 30),
		PagesPerClaim:      getEnvInt("PAGES_PER_CLAIM", 5),
		ShutdownTimeout:    getEnvInt("SHUTDOWN_TIMEOUT", 30),
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
	}, nil
}

// getEnvInt reads an integer env var, falling back to def when unset or invalid
func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	PollInterval       int // seconds
	MaxRetries         int
	ShutdownTimeout    int // seconds
	SyncStaleness      int // minutes before a source is due for re-sync
	StuckRunning       int // minutes before a running source counts as abandoned
	MetricsAddr        string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	StateSecret        string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, Google Calendar API will not work")
	}

	redirectURI := os.Getenv("GOOGLE_REDIRECT_URI")
	if redirectURI == "" {
		redirectURI = "http://localhost:8080/oauth/google/callback"
	}

	stateSecret := os.Getenv("OAUTH_STATE_SECRET")
	if stateSecret == "" {
		fmt.Println("Warning: OAUTH_STATE_SECRET not set, OAuth state validation will not work")
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	return &Config{
		DatabaseURL:        dbURL,
		PollInterval:       intEnv("POLL_INTERVAL_SECONDS", 30),
		MaxRetries:         intEnv("MAX_RETRIES", 3),
		ShutdownTimeout:    intEnv("SHUTDOWN_TIMEOUT_SECONDS", 30),
		SyncStaleness:      intEnv("SYNC_STALENESS_MINUTES", 15),
		StuckRunning:       intEnv("SYNC_STUCK_MINUTES", 30),
		MetricsAddr:        metricsAddr,
		GoogleClientID:     clientID,
		GoogleClientSecret: clientSecret,
		GoogleRedirectURI:  redirectURI,
		StateSecret:        stateSecret,
	}, nil
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the robot core.
type Config struct {
	Port string

	// MT5 bridge
	BridgeBaseURL string
	BridgeToken   string

	// Balance reads must return within this budget; on expiry the cached
	// value is served instead.
	BalanceMaxWait time.Duration

	// Trade history window fetched per reconciliation pass.
	SyncWindow time.Duration
	// Background reconciliation cadence; 0 disables the loop.
	SyncInterval time.Duration
	// Scheduled robot evaluation cadence; 0 disables the loop.
	EvalInterval time.Duration

	// Database
	DBPath string

	// Robot catalog YAML; optional.
	RobotCatalogPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		BridgeBaseURL:    getEnv("BRIDGE_BASE_URL", "https://mt-bridge.local:8443"),
		BridgeToken:      os.Getenv("BRIDGE_TOKEN"),
		BalanceMaxWait:   getEnvDuration("BALANCE_MAX_WAIT", 3*time.Second),
		SyncWindow:       getEnvDuration("SYNC_WINDOW", 30*24*time.Hour),
		SyncInterval:     getEnvDuration("SYNC_INTERVAL", 5*time.Minute),
		EvalInterval:     getEnvDuration("EVAL_INTERVAL", time.Minute),
		DBPath:           getEnv("DB_PATH", "./data/robot.db"),
		RobotCatalogPath: getEnv("ROBOT_CATALOG_PATH", "./robots.yaml"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

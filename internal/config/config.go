package config

import (
	"os"
	"strconv"
	"time"

	"inkgen-service/internal/pkg/jwt"
)

type AppConfig struct {
	// Server
	HTTPAddr  string
	RedisAddr string
	RedisPass string

	// JWT
	JWT jwt.Config

	// Quota days roll over at midnight in this timezone, regardless of
	// where the user connects from.
	BusinessTimezone string

	// Starting credit balance for new accounts; 0 disables the grant.
	SignupCredits int64

	// Background write-behind queue
	TrackerQueueSize int
	TrackerWorkers   int

	// Sweep intervals
	SessionCleanupInterval time.Duration
	UsageRetentionInterval time.Duration
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8000"),
		RedisAddr: getEnv("REDIS_ADDR", "redis-inkgen:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		JWT: jwt.Config{
			PrivPath: getEnv("JWT_PRIVATE_KEY_PATH", "/app/secrets/jwt_private.pem"),
			PubPath:  getEnv("JWT_PUBLIC_KEY_PATH", "/app/secrets/jwt_public.pem"),
			Issuer:   "inkgen",
			Audience: "inkgen-users",
			TTL:      24 * time.Hour,
			KID:      "inkgen-key",
		},

		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "Asia/Ho_Chi_Minh"),

		SignupCredits: int64(getEnvInt("SIGNUP_CREDITS", 100)),

		TrackerQueueSize: getEnvInt("TRACKER_QUEUE_SIZE", 1024),
		TrackerWorkers:   getEnvInt("TRACKER_WORKERS", 4),

		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour),
		UsageRetentionInterval: getEnvDuration("USAGE_RETENTION_INTERVAL", 24*time.Hour),
	}
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

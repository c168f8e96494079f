// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// DBPath is the filesystem path of the SQLite database holding the durable stores.
	DBPath string
	// DBBusyTimeout is the SQLite busy timeout applied to every connection.
	DBBusyTimeout time.Duration

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// APIBaseURL is the base URL of the remote backend all operations dispatch to.
	APIBaseURL string
	// APIRequestTimeout is the per-request timeout on network dispatch.
	APIRequestTimeout time.Duration
	// APIAccessToken is the bearer token presented on dispatch.
	APIAccessToken string
	// APIRefreshToken is the refresh token used after an Unauthorized response.
	APIRefreshToken string

	// BackoffBase is the base delay of the exponential retry backoff.
	BackoffBase time.Duration
	// BackoffMax caps the exponential retry backoff.
	BackoffMax time.Duration
	// MaxAttempts is the number of dispatch attempts before an operation
	// is moved to the failed store.
	MaxAttempts int

	// BreakerThreshold is the failure count within BreakerWindow that trips the circuit breaker.
	BreakerThreshold int
	// BreakerWindow is the sliding window over which failures are counted.
	BreakerWindow time.Duration
	// BreakerCooldown is how long the breaker stays tripped after the last failure.
	BreakerCooldown time.Duration

	// LockStaleness is the age past which a processing-lock heartbeat is
	// considered abandoned and the lock may be taken over.
	LockStaleness time.Duration
	// LockHeartbeatInterval is how often the engine refreshes its lock heartbeat.
	LockHeartbeatInterval time.Duration

	// IdempotencyTTL is how long succeeded idempotency keys are retained.
	IdempotencyTTL time.Duration

	// SyncInterval is the engine wake-up interval when no explicit trigger arrives.
	SyncInterval time.Duration
	// DispatchRatePerSec paces outbound dispatch when draining a deep queue.
	DispatchRatePerSec float64
	// DispatchBurst is the burst size for outbound dispatch pacing.
	DispatchBurst int

	// StatusHost is the host address the local status API binds to.
	StatusHost string
	// StatusPort is the port of the local status API.
	StatusPort int

	// CORSEnabled indicates whether CORS is enabled on the status API.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Storage
		DBPath:        env.GetString("DB_PATH", "syncengine.db"),
		DBBusyTimeout: env.GetDuration("DB_BUSY_TIMEOUT_MS", 5000, time.Millisecond),

		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// Remote backend
		APIBaseURL:        env.GetString("API_BASE_URL", "http://localhost:8080"),
		APIRequestTimeout: env.GetDuration("API_REQUEST_TIMEOUT_SECONDS", 15, time.Second),
		APIAccessToken:    env.GetString("API_ACCESS_TOKEN", ""),
		APIRefreshToken:   env.GetString("API_REFRESH_TOKEN", ""),

		// Retry backoff
		BackoffBase: env.GetDuration("BACKOFF_BASE_MS", 1000, time.Millisecond),
		BackoffMax:  env.GetDuration("BACKOFF_MAX_MS", 30000, time.Millisecond),
		MaxAttempts: env.GetInt("MAX_ATTEMPTS", 5),

		// Circuit breaker
		BreakerThreshold: env.GetInt("BREAKER_THRESHOLD", 10),
		BreakerWindow:    env.GetDuration("BREAKER_WINDOW_MS", 5000, time.Millisecond),
		BreakerCooldown:  env.GetDuration("BREAKER_COOLDOWN_MS", 2000, time.Millisecond),

		// Processing lock
		LockStaleness:         env.GetDuration("LOCK_STALENESS_SECONDS", 30, time.Second),
		LockHeartbeatInterval: env.GetDuration("LOCK_HEARTBEAT_SECONDS", 10, time.Second),

		// Idempotency tracker
		IdempotencyTTL: env.GetDuration("IDEMPOTENCY_TTL_HOURS", 24, time.Hour),

		// Engine
		SyncInterval:       env.GetDuration("SYNC_INTERVAL_SECONDS", 30, time.Second),
		DispatchRatePerSec: env.GetFloat64("DISPATCH_RATE_PER_SEC", 10.0),
		DispatchBurst:      env.GetInt("DISPATCH_BURST", 5),

		// Status API
		StatusHost: env.GetString("STATUS_HOST", "127.0.0.1"),
		StatusPort: env.GetInt("STATUS_PORT", 8099),

		// CORS
		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "syncengine"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8098),
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	switch c.LogLevel {
	case "debug":
		return "debug"
	case "info", "warn", "error":
		return "release"
	default:
		return "release"
	}
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// Search for .env file recursively up the directory tree
	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			// .env file found, load it
			_ = godotenv.Load(envPath)
			return
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root directory
			break
		}
		dir = parent
	}
}

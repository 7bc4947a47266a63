package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all engine and simulator configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	// Remote exam API.
	APIBaseURL     string
	RequestTimeout time.Duration

	// Local persistence layer.
	StoreDriver string // memory | sqlite | redis
	SQLitePath  string
	RedisURL    string
	StaleMaxAge time.Duration

	// Autosave pipeline.
	AutosavePeriod       time.Duration
	AutosaveInitialDelay time.Duration
	LocalDebounce        time.Duration
	MinSyncGap           time.Duration

	// Abort countdown.
	AbortCountdownSeconds int
	AbortHardTimeout      time.Duration

	// Stub exam server (cmd/examsim).
	SimPort         string
	JWTSecret       string
	SessionTokenTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "pretty"),

		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),

		StoreDriver: getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./session_cache.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StaleMaxAge: time.Duration(getEnvInt("STALE_MAX_AGE_HOURS", 24)) * time.Hour,

		AutosavePeriod:       getEnvDuration("AUTOSAVE_PERIOD", 10*time.Second),
		AutosaveInitialDelay: getEnvDuration("AUTOSAVE_INITIAL_DELAY", 3*time.Second),
		LocalDebounce:        getEnvDuration("LOCAL_DEBOUNCE", 800*time.Millisecond),
		MinSyncGap:           getEnvDuration("MIN_SYNC_GAP", 5*time.Second),

		AbortCountdownSeconds: getEnvInt("ABORT_COUNTDOWN_SECONDS", 10),
		AbortHardTimeout:      getEnvDuration("ABORT_HARD_TIMEOUT", 12*time.Second),

		SimPort:         getEnv("SIM_PORT", "8080"),
		JWTSecret:       getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		SessionTokenTTL: getEnvDuration("SESSION_TOKEN_TTL", 4*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
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

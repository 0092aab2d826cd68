package config

import (
	"os"
	"strconv"
)

// Config is duraq's env-var-driven configuration, following the same
// getEnv/getEnvAsInt/getEnvAsBool convention the example pack's
// scheduler config uses.
type Config struct {
	// Backing store (Redis)
	RedisHost string
	RedisPort string

	// Durable history store (Postgres, optional)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	HistoryEnabled bool

	// Queue behavior
	StaleAfter        int64  // ms, claim deadline before a job is reclaimed
	StaleCheckInterval string // duration string, or "manual"
	MaxJobs           int    // default per-worker in-flight cap
	PollInterval      string // duration string, distributor backoff base

	// Failure artifact store
	ArtifactsLocalDir string
	ArtifactsBucket   string
	ArtifactsRegion   string
	ArtifactsEndpoint string

	// Admin API
	APIPort string

	// Auth
	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	// Tracing
	TracingEnabled  bool
	TracingEndpoint string
}

// LoadConfig reads Config from the environment, applying the same
// defaults-first pattern as the example pack.
func LoadConfig() *Config {
	return &Config{
		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "duraq"),
		DBPassword:     getEnv("DB_PASSWORD", "password"),
		DBName:         getEnv("DB_NAME", "duraq"),
		HistoryEnabled: getEnvAsBool("HISTORY_ENABLED", false),

		StaleAfter:         int64(getEnvAsInt("STALE_AFTER_MS", 30_000)),
		StaleCheckInterval: getEnv("STALE_CHECK_INTERVAL", "10s"),
		MaxJobs:            getEnvAsInt("MAX_JOBS", 10),
		PollInterval:       getEnv("POLL_INTERVAL", "500ms"),

		ArtifactsLocalDir: getEnv("ARTIFACTS_LOCAL_DIR", "/tmp/duraq-artifacts"),
		ArtifactsBucket:   getEnv("ARTIFACTS_BUCKET", ""),
		ArtifactsRegion:   getEnv("ARTIFACTS_REGION", "us-east-1"),
		ArtifactsEndpoint: getEnv("ARTIFACTS_ENDPOINT", ""),

		APIPort: getEnv("API_PORT", "8080"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "duraq"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

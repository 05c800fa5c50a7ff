// Package config loads the engine's configuration from environment
// variables, enumerating every supported key explicitly and rejecting
// invalid values at startup rather than deep inside a request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EmbeddingProviderKind is one of the three tagged embedding provider
// variants the gateway can be configured to use first.
type EmbeddingProviderKind string

const (
	ProviderLocal           EmbeddingProviderKind = "local"
	ProviderRemotePrimary   EmbeddingProviderKind = "remote-primary"
	ProviderRemoteSecondary EmbeddingProviderKind = "remote-secondary"
)

// Config holds every configuration value the engine and its entry points
// consume. Unknown environment keys are ignored; missing required keys fail
// validation.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Database (C1 Storage Adapter)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	DBSchema   string // active schema; empty means the default

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime time.Duration
	DBConnectTimeout  time.Duration

	// Embedding (C2/C3)
	EmbeddingProvider   EmbeddingProviderKind
	EmbeddingDim        int
	EmbeddingEndpoint   string
	EmbeddingAPIKey     string
	EmbeddingCacheSize  int
	EmbeddingCacheTTL   time.Duration
	EmbeddingRetries    int

	// Semantic consolidation (C5)
	SemanticConsolidation bool

	// Redis (optional L2 cache backing)
	RedisURL string

	LogLevel string
}

// Load reads configuration from the environment and an optional .env file.
// It never fails: callers must call Validate separately so that startup
// failures produce a single, clear diagnostic.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GRACEFUL_TIMEOUT_SEC", 15)

	addr := getEnv("ADDR", "")
	if addr == "" {
		addr = ":" + getEnv("PORT", "8080")
	}

	return &Config{
		Addr:            addr,
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnv("DB_NAME", "anima"),
		DBUser:     getEnv("DB_USER", "anima"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBSchema:   getEnv("DB_SCHEMA", ""),

		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdleTime: time.Duration(getEnvInt("DB_IDLE_TIMEOUT_SEC", 30)) * time.Second,
		DBConnectTimeout:  time.Duration(getEnvInt("DB_CONNECT_TIMEOUT_SEC", 5)) * time.Second,

		EmbeddingProvider:  EmbeddingProviderKind(getEnv("EMBEDDING_PROVIDER", string(ProviderLocal))),
		EmbeddingDim:       getEnvInt("EMBEDDING_DIM", 384),
		EmbeddingEndpoint:  getEnv("EMBEDDING_ENDPOINT", ""),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingCacheSize: getEnvInt("EMBEDDING_CACHE_SIZE", 10000),
		EmbeddingCacheTTL:  time.Duration(getEnvInt("EMBEDDING_CACHE_TTL_SEC", 3600)) * time.Second,
		EmbeddingRetries:   getEnvInt("EMBEDDING_RETRIES", 3),

		SemanticConsolidation: getEnvBool("SEMANTIC_CONSOLIDATION", true),

		RedisURL: getEnv("REDIS_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate fails fast on invalid configuration. It is the single validation
// pass run once at startup. It checks the values Load read; unknown
// environment keys are not inspected and so are never rejected.
func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	switch c.EmbeddingDim {
	case 384, 768:
	default:
		return fmt.Errorf("EMBEDDING_DIM must be 384 or 768, got %d", c.EmbeddingDim)
	}
	switch c.EmbeddingProvider {
	case ProviderLocal, ProviderRemotePrimary, ProviderRemoteSecondary:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of local, remote-primary, remote-secondary, got %q", c.EmbeddingProvider)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

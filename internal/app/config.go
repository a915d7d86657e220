// Package app assembles the engine's components from environment configuration.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockflow/internal/infrastructure/channel/tiendanube"
)

// Config is the process configuration shared by the server and the worker.
type Config struct {
	Env      string
	LogLevel string
	Port     string

	// DatabaseURL empty selects the in-memory store, allowed in development only.
	DatabaseURL string
	AutoMigrate bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	SKUCacheTTL   time.Duration

	Tiendanube tiendanube.Config
	ChannelRPS float64

	SyncQueueSize     int
	ReconcileInterval time.Duration
	IdempotencyTTL    time.Duration
	CORSOrigins       []string
}

// Development reports whether the process runs in development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

// InMemory reports whether the process keeps its state in memory.
// Nothing is shared with other processes in that mode.
func (c Config) InMemory() bool {
	return c.DatabaseURL == ""
}

// ChannelEnabled reports whether sales channel credentials are configured.
func (c Config) ChannelEnabled() bool {
	return c.Tiendanube.StoreID != "" && c.Tiendanube.AccessToken != ""
}

// LoadConfig reads the environment, after loading an optional .env file.
func LoadConfig() (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Config{
		Env:           getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnv("APP_PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		AutoMigrate:   getEnvBool("AUTO_MIGRATE", false),
		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SKUCacheTTL:   getEnvDuration("SKU_CACHE_TTL", 0),
		Tiendanube: tiendanube.Config{
			BaseURL:     getEnv("TIENDANUBE_API_BASE", tiendanube.DefaultBaseURL),
			StoreID:     os.Getenv("TIENDANUBE_STORE_ID"),
			AccessToken: os.Getenv("TIENDANUBE_ACCESS_TOKEN"),
			UserAgent:   getEnv("TIENDANUBE_USER_AGENT", tiendanube.DefaultUserAgent),
		},
		ChannelRPS:        getEnvFloat("TIENDANUBE_RPS", 2),
		SyncQueueSize:     getEnvInt("STOCK_SYNC_QUEUE_SIZE", 256),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		IdempotencyTTL:    getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		CORSOrigins:       splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" && !cfg.Development() {
		return cfg, fmt.Errorf("DATABASE_URL is required when APP_ENV=%s", cfg.Env)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

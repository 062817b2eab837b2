package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Telemetry TelemetryConfig
	Blob      BlobConfig
	Ledger    LedgerConfig
	Registry  RegistryConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig holds event queue settings
type QueueConfig struct {
	Type          string // "memory" or "kafka"
	Brokers       []string
	EventsTopic   string
	ConsumerGroup string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// BlobConfig selects and configures the off-chain asset store
type BlobConfig struct {
	Backend       string // "memory", "redis" or "postgres"
	Bucket        string
	PublicBaseURL string
	MaxAssetBytes int64
}

// LedgerConfig selects the ledger the registry commits to
type LedgerConfig struct {
	Mode          string // "memory" or "http"
	URL           string
	Store         string // ledger node storage, "postgres" or "memory"
	SubmitTimeout time.Duration
	ReadTimeout   time.Duration
}

// RegistryConfig holds registry behaviour settings
type RegistryConfig struct {
	LockBackend    string // "memory" or "redis"
	LockTTL        time.Duration
	VerifyBaseURL  string
	AttributeRules []string // CEL expressions, all must hold
	PedigreeDepth  int
}

// RateLimitConfig holds per-principal mutation limits
type RateLimitConfig struct {
	Enabled       bool
	PerPrincipal  int64
	WindowSeconds int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "koiledger"),
			User:        getEnv("POSTGRES_USER", "koiledger"),
			Password:    getEnv("POSTGRES_PASSWORD", "koiledger"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Type:          getEnv("QUEUE_TYPE", "memory"),
			Brokers:       getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic:   getEnv("EVENTS_TOPIC", "koi.events"),
			ConsumerGroup: getEnv("EVENTS_CONSUMER_GROUP", serviceName),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
		Blob: BlobConfig{
			Backend:       getEnv("BLOB_BACKEND", "memory"),
			Bucket:        getEnv("BLOB_BUCKET", "koi-assets"),
			PublicBaseURL: getEnv("BLOB_PUBLIC_BASE_URL", "http://localhost:8080/assets"),
			MaxAssetBytes: int64(getEnvInt("MAX_ASSET_BYTES", 10<<20)),
		},
		Ledger: LedgerConfig{
			Mode:          getEnv("LEDGER_MODE", "memory"),
			URL:           getEnv("LEDGER_URL", "http://localhost:8081"),
			Store:         getEnv("LEDGER_STORE", "postgres"),
			SubmitTimeout: getEnvDuration("LEDGER_SUBMIT_TIMEOUT", 30*time.Second),
			ReadTimeout:   getEnvDuration("LEDGER_READ_TIMEOUT", 5*time.Second),
		},
		Registry: RegistryConfig{
			LockBackend:    getEnv("LOCK_BACKEND", "memory"),
			LockTTL:        getEnvDuration("LOCK_TTL", 2*time.Minute),
			VerifyBaseURL:  getEnv("VERIFY_BASE_URL", "http://localhost:3000"),
			AttributeRules: getEnvList("ATTRIBUTE_RULES", ";", nil),
			PedigreeDepth:  getEnvInt("PEDIGREE_DEPTH", 3),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", false),
			PerPrincipal:  int64(getEnvInt("RATE_LIMIT_PER_PRINCIPAL", 30)),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	switch c.Queue.Type {
	case "memory", "kafka":
	default:
		return fmt.Errorf("unknown queue type: %s", c.Queue.Type)
	}

	switch c.Blob.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown blob backend: %s", c.Blob.Backend)
	}

	if c.Blob.MaxAssetBytes <= 0 {
		return fmt.Errorf("max asset bytes must be positive")
	}

	switch c.Ledger.Mode {
	case "memory":
	case "http":
		if c.Ledger.URL == "" {
			return fmt.Errorf("ledger url is required in http mode")
		}
	default:
		return fmt.Errorf("unknown ledger mode: %s", c.Ledger.Mode)
	}

	switch c.Ledger.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown ledger store: %s", c.Ledger.Store)
	}

	if c.Ledger.SubmitTimeout <= 0 {
		return fmt.Errorf("ledger submit timeout must be positive")
	}

	switch c.Registry.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %s", c.Registry.LockBackend)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	return getEnvList(key, ",", defaultValue)
}

func getEnvList(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Import   ImportConfig
	Export   ExportConfig
	Crypto   CryptoConfig
	Cache    CacheConfig
	Events   EventsConfig
	Tracing  TracingConfig
	Audit    AuditConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// BaseURL prefixes issued codes in returned short URLs; it points at the redirect route
	BaseURL string `env:"BASE_URL" default:"http://localhost:8080/r"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 5m, exports can be large)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-bulk requests (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honored.
	// Empty means headers are ignored and the connection address is used.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is postgres, redis or memory (default: postgres)
	Backend string `env:"STORE_BACKEND" default:"postgres"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required for the postgres backend.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies embedded migrations at startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// RedisConfig holds Redis connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// Prefix namespaces every key (default: sl:)
	Prefix string `env:"REDIS_PREFIX" default:"sl:"`
}

// ImportConfig holds bulk import settings.
type ImportConfig struct {
	// MaxConcurrent is the number of imports allowed to run at once (default: 2)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long an import waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// ApplyConcurrency is the number of records applied in parallel (default: 10)
	ApplyConcurrency int `env:"IMPORT_APPLY_CONCURRENCY" default:"10"`

	// MaxCandidates rejects larger batches before any write (default: 5000)
	MaxCandidates int `env:"IMPORT_MAX_CANDIDATES" default:"5000"`

	// MaxBytes is the largest accepted payload (default: 10MB)
	MaxBytes int64 `env:"IMPORT_MAX_BYTES" default:"10485760"`

	// Timeout bounds a single import (default: 5m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"5m"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	// MaxRecords refuses larger exports (default: 50000)
	MaxRecords int64 `env:"EXPORT_MAX_RECORDS" default:"50000"`

	// BatchSize is the cursor page size (default: 100)
	BatchSize int `env:"EXPORT_BATCH_SIZE" default:"100"`
}

// CryptoConfig holds export/import encryption settings.
type CryptoConfig struct {
	// AESKey is the static passphrase used when the settings store has none
	AESKey string `env:"AES_KEY"`

	// KeyTTL is how long a resolved key is cached (default: 5m)
	KeyTTL time.Duration `env:"AES_KEY_TTL" default:"5m"`
}

// CacheConfig holds lookup cache settings.
type CacheConfig struct {
	// Enabled puts the ristretto/bloom cache in front of lookups (default: true)
	Enabled bool `env:"CACHE_ENABLED" default:"true"`

	// MaxItems bounds the L1 entry count (default: 100000)
	MaxItems int64 `env:"CACHE_MAX_ITEMS" default:"100000"`

	// TTL is the L1 entry lifetime (default: 5m)
	TTL time.Duration `env:"CACHE_TTL" default:"5m"`

	// BloomExpectedItems sizes the existence filter (default: 1000000)
	BloomExpectedItems uint `env:"CACHE_BLOOM_EXPECTED_ITEMS" default:"1000000"`

	// BloomFalsePositiveRate is the target filter error rate (default: 0.01)
	BloomFalsePositiveRate float64 `env:"CACHE_BLOOM_FP_RATE" default:"0.01"`

	// RebuildInterval is how often the filter is reloaded from the store (default: 10m)
	RebuildInterval time.Duration `env:"CACHE_REBUILD_INTERVAL" default:"10m"`
}

// EventsConfig holds Kafka publishing settings. Publishing is off without brokers.
type EventsConfig struct {
	Brokers []string `env:"KAFKA_BROKERS"`
	Topic   string   `env:"KAFKA_TOPIC" default:"shortlinks.audit"`
}

// TracingConfig holds OpenTelemetry settings. Tracing is off without an endpoint.
type TracingConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" default:"shortlinks"`
}

// AuditConfig holds audit log retention settings.
type AuditConfig struct {
	// RetentionDays is how long audit entries are kept (default: 90)
	RetentionDays int `env:"AUDIT_RETENTION_DAYS" default:"90"`

	// PurgeInterval is how often old entries are deleted (default: 24h)
	PurgeInterval time.Duration `env:"AUDIT_PURGE_INTERVAL" default:"24h"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the limit per client IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// BulkLimit is requests per minute for import and export endpoints (default: 10)
	BulkLimit int `env:"RATE_LIMIT_BULK" default:"10"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

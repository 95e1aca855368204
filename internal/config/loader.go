package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}
		field.SetUint(u)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	switch strings.ToLower(c.Store.Backend) {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "REDIS_ADDR is required when STORE_BACKEND is redis")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND (%q) must be one of: postgres, redis, memory", c.Store.Backend))
	}

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "REDIS_DB must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("BASE_URL (%q) must be an absolute URL", c.Server.BaseURL))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.ApplyConcurrency <= 0 {
		errs = append(errs, "IMPORT_APPLY_CONCURRENCY must be positive")
	}
	if c.Import.MaxCandidates <= 0 {
		errs = append(errs, "IMPORT_MAX_CANDIDATES must be positive")
	}
	if c.Import.MaxBytes <= 0 {
		errs = append(errs, "IMPORT_MAX_BYTES must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}

	// Export validation
	if c.Export.MaxRecords <= 0 {
		errs = append(errs, "EXPORT_MAX_RECORDS must be positive")
	}
	if c.Export.BatchSize <= 0 {
		errs = append(errs, "EXPORT_BATCH_SIZE must be positive")
	}

	// Crypto validation
	if c.Crypto.KeyTTL <= 0 {
		errs = append(errs, "AES_KEY_TTL must be positive")
	}

	// Cache validation
	if c.Cache.Enabled {
		if c.Cache.MaxItems <= 0 {
			errs = append(errs, "CACHE_MAX_ITEMS must be positive")
		}
		if c.Cache.BloomFalsePositiveRate <= 0 || c.Cache.BloomFalsePositiveRate >= 1 {
			errs = append(errs, fmt.Sprintf("CACHE_BLOOM_FP_RATE (%g) must be between 0 and 1", c.Cache.BloomFalsePositiveRate))
		}
		if c.Cache.RebuildInterval <= 0 {
			errs = append(errs, "CACHE_REBUILD_INTERVAL must be positive")
		}
	}

	// Audit validation
	if c.Audit.RetentionDays <= 0 {
		errs = append(errs, "AUDIT_RETENTION_DAYS must be positive")
	}
	if c.Audit.PurgeInterval <= 0 {
		errs = append(errs, "AUDIT_PURGE_INTERVAL must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.BulkLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_BULK must be positive when rate limiting is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs, passwords and keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d, BaseURL: %q}, ", c.Server.Host, c.Server.Port, c.Server.BaseURL))
	b.WriteString(fmt.Sprintf("Store: {Backend: %q}, ", c.Store.Backend))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Redis: {Addr: %q, Password: %s, DB: %d}, ",
		c.Redis.Addr, mask(c.Redis.Password), c.Redis.DB))
	b.WriteString(fmt.Sprintf("Import: {MaxConcurrent: %d, ApplyConcurrency: %d, MaxCandidates: %d}, ",
		c.Import.MaxConcurrent, c.Import.ApplyConcurrency, c.Import.MaxCandidates))
	b.WriteString(fmt.Sprintf("Crypto: {AESKey: %s, KeyTTL: %s}, ", mask(c.Crypto.AESKey), c.Crypto.KeyTTL))
	b.WriteString(fmt.Sprintf("Cache: {Enabled: %v, MaxItems: %d}, ", c.Cache.Enabled, c.Cache.MaxItems))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}

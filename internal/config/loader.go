package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the accepted format for date-valued settings.
const DateLayout = "2006-01-02"

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
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
		if field.Type.Kind() == reflect.Struct && field.Type != timeType {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

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

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

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
		if field.Type() == durationType {
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

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Struct:
		if field.Type() != timeType {
			return fmt.Errorf("unsupported struct type: %s", field.Type())
		}
		t, err := time.Parse(DateLayout, value)
		if err != nil {
			return fmt.Errorf("invalid date (want %s): %w", DateLayout, err)
		}
		field.Set(reflect.ValueOf(t))

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
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

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Pipeline validation
	if c.Pipeline.ArchiveDir == "" {
		errs = append(errs, "ARCHIVE_DIR is required")
	}
	if !strings.HasPrefix(c.Pipeline.ArchiveExtension, ".") {
		errs = append(errs, fmt.Sprintf("ARCHIVE_EXTENSION (%q) must start with a dot", c.Pipeline.ArchiveExtension))
	}
	if !strings.HasPrefix(c.Pipeline.DataExtension, ".") {
		errs = append(errs, fmt.Sprintf("DATA_EXTENSION (%q) must start with a dot", c.Pipeline.DataExtension))
	}
	if strings.EqualFold(c.Pipeline.ArchiveExtension, c.Pipeline.DataExtension) {
		errs = append(errs, "ARCHIVE_EXTENSION and DATA_EXTENSION must differ")
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "ARCHIVE_WORKERS must be positive")
	}
	if c.Pipeline.HectareMarker == "" {
		errs = append(errs, "HECTARE_MARKER must not be empty")
	}
	if c.Pipeline.FilterEarliest && c.Pipeline.EarliestDate.IsZero() {
		errs = append(errs, "FILTER_EARLIEST_DATE is required when FILTER_EARLIEST_ENABLED is true")
	}

	// Output validation
	if c.Output.Path == "" {
		errs = append(errs, "OUTPUT_PATH is required")
	}
	if c.Output.Bundle && c.Output.BundleDir == "" {
		errs = append(errs, "OUTPUT_BUNDLE_DIR is required when OUTPUT_BUNDLE is true")
	}
	if c.Output.SQLitePath != "" && c.Output.SQLiteTable == "" {
		errs = append(errs, "SQLITE_TABLE is required when SQLITE_PATH is set")
	}

	// Database validation
	if c.Database.URL != "" {
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.Table == "" {
			errs = append(errs, "DB_TABLE is required when DATABASE_URL is set")
		}
	}

	// Fetch validation
	if c.Fetch.BaseURL == "" {
		errs = append(errs, "FETCH_BASE_URL is required")
	}
	if c.Fetch.Years < 0 {
		errs = append(errs, "FETCH_YEARS must be non-negative")
	}
	if c.Fetch.RecentDaysExcluded < 0 {
		errs = append(errs, "FETCH_RECENT_DAYS_EXCLUDED must be non-negative")
	}
	if c.Fetch.RetryAttempts <= 0 {
		errs = append(errs, "FETCH_RETRY_ATTEMPTS must be positive")
	}
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, "FETCH_RETRY_DELAY must be non-negative")
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}
	if c.Fetch.RateLimitRPS < 0 {
		errs = append(errs, "FETCH_RATE_LIMIT_RPS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Server.RunTimeout <= 0 {
		errs = append(errs, "SERVER_RUN_TIMEOUT must be positive")
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT_PER_MINUTE must be non-negative")
	}
	if c.Server.RefreshInterval < 0 {
		errs = append(errs, "SERVER_REFRESH_INTERVAL must be non-negative")
	}
	if c.Server.RunHistory <= 0 {
		errs = append(errs, "SERVER_RUN_HISTORY must be positive")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
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
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	dbURL := ""
	if c.Database.URL != "" {
		dbURL = "[MASKED]"
	}

	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Pipeline: {ArchiveDir: %q, Workers: %d, FilterFuture: %v, FilterEarliest: %v, Earliest: %s}, ",
		c.Pipeline.ArchiveDir, c.Pipeline.Workers, c.Pipeline.FilterFutureDates,
		c.Pipeline.FilterEarliest, c.Pipeline.EarliestDate.Format(DateLayout))
	fmt.Fprintf(&b, "Output: {Path: %q, Bundle: %v, SQLitePath: %q}, ",
		c.Output.Path, c.Output.Bundle, c.Output.SQLitePath)
	fmt.Fprintf(&b, "Database: {URL: %s, Table: %q, MaxConns: %d}, ",
		dbURL, c.Database.Table, c.Database.MaxConns)
	fmt.Fprintf(&b, "Fetch: {BaseURL: %q, Years: %d, RetryAttempts: %d}, ",
		c.Fetch.BaseURL, c.Fetch.Years, c.Fetch.RetryAttempts)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d configured}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Pipeline PipelineConfig
	Output   OutputConfig
	Database DatabaseConfig
	Fetch    FetchConfig
	Server   ServerConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// PipelineConfig holds archive extraction and normalization settings.
type PipelineConfig struct {
	// ArchiveDir is the directory scanned for downloaded archives (default: data)
	ArchiveDir string `env:"ARCHIVE_DIR" default:"data"`

	// ArchiveExtension identifies zip containers, top-level and nested (default: .zip)
	ArchiveExtension string `env:"ARCHIVE_EXTENSION" default:".zip"`

	// DataExtension identifies record files inside archives (default: .dat)
	DataExtension string `env:"DATA_EXTENSION" default:".dat"`

	// Workers is the number of archives unpacked in parallel (default: 4)
	Workers int `env:"ARCHIVE_WORKERS" default:"4"`

	// LenientUTF8 replaces invalid bytes instead of skipping the member (default: false)
	LenientUTF8 bool `env:"ARCHIVE_LENIENT_UTF8" default:"false"`

	// HectareMarker is the area_type value whose areas are converted to m² (default: H)
	HectareMarker string `env:"HECTARE_MARKER" default:"H"`

	// FilterFutureDates drops sales contracted after today (default: true)
	FilterFutureDates bool `env:"FILTER_FUTURE_DATES" default:"true"`

	// FilterEarliest drops sales contracted before EarliestDate (default: true)
	FilterEarliest bool `env:"FILTER_EARLIEST_ENABLED" default:"true"`

	// EarliestDate is the oldest acceptable contract date, YYYY-MM-DD (default: 1990-01-01)
	EarliestDate time.Time `env:"FILTER_EARLIEST_DATE" default:"1990-01-01"`

	// Deduplicate collapses sales repeated across weekly and yearly archives (default: true)
	Deduplicate bool `env:"DEDUPLICATE" default:"true"`

	// RemapZoning applies the 2021 zoning reclassification (default: true)
	RemapZoning bool `env:"ZONING_REMAP" default:"true"`

	// ZoningRulesFile optionally replaces the built-in reclassification rules (YAML)
	ZoningRulesFile string `env:"ZONING_RULES_FILE"`
}

// OutputConfig holds sink settings.
type OutputConfig struct {
	// Path is the CSV file written by every run (default: property_sales.csv)
	Path string `env:"OUTPUT_PATH" default:"property_sales.csv"`

	// Bundle additionally zips the CSV with a dated file name (default: false)
	Bundle bool `env:"OUTPUT_BUNDLE" default:"false"`

	// BundleDir receives the dated zip and its archive.zip copy (default: dist)
	BundleDir string `env:"OUTPUT_BUNDLE_DIR" default:"dist"`

	// SQLitePath enables the SQLite sink when set
	SQLitePath string `env:"SQLITE_PATH"`

	// SQLiteTable is the table loaded by the SQLite sink (default: property_sales)
	SQLiteTable string `env:"SQLITE_TABLE" default:"property_sales"`
}

// DatabaseConfig holds PostgreSQL sink settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; the Postgres sink is disabled when empty.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Table is the destination table (default: property_sales)
	Table string `env:"DB_TABLE" default:"property_sales"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// FetchConfig holds archive download settings.
type FetchConfig struct {
	// BaseURL is the bulk sales data root holding weekly/ and yearly/ folders
	BaseURL string `env:"FETCH_BASE_URL" default:"https://www.valuergeneral.nsw.gov.au/__psi/"`

	// Years is the number of yearly archives to collect (default: 7)
	Years int `env:"FETCH_YEARS" default:"7"`

	// RecentDaysExcluded skips the newest weekly archives, which are published late (default: 14)
	RecentDaysExcluded int `env:"FETCH_RECENT_DAYS_EXCLUDED" default:"14"`

	// RetryAttempts is the total number of attempts per archive (default: 3)
	RetryAttempts int `env:"FETCH_RETRY_ATTEMPTS" default:"3"`

	// RetryDelay is the pause between attempts (default: 5s)
	RetryDelay time.Duration `env:"FETCH_RETRY_DELAY" default:"5s"`

	// Timeout bounds a single HTTP request (default: 2m)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"2m"`

	// RateLimitRPS caps request rate, 0 disables (default: 1)
	RateLimitRPS float64 `env:"FETCH_RATE_LIMIT_RPS" default:"1"`

	// SkipExisting leaves archives already on disk untouched (default: true)
	SkipExisting bool `env:"FETCH_SKIP_EXISTING" default:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// MaxConcurrentRuns is the number of pipeline runs allowed at once (default: 1)
	MaxConcurrentRuns int `env:"SERVER_MAX_CONCURRENT_RUNS" default:"1"`

	// RunWaitTime is how long a run request waits for a free slot (default: 5s)
	RunWaitTime time.Duration `env:"SERVER_RUN_WAIT_TIME" default:"5s"`

	// RunTimeout bounds a single pipeline run started over HTTP (default: 30m)
	RunTimeout time.Duration `env:"SERVER_RUN_TIMEOUT" default:"30m"`

	// RateLimitPerMinute caps requests per client IP, 0 disables (default: 100)
	RateLimitPerMinute int `env:"SERVER_RATE_LIMIT_PER_MINUTE" default:"100"`

	// RefreshInterval downloads new archives and starts a run periodically, 0 disables (default: 0)
	RefreshInterval time.Duration `env:"SERVER_REFRESH_INTERVAL" default:"0"`

	// RunHistory is the number of finished runs kept for GET /api/runs (default: 50)
	RunHistory int `env:"SERVER_RUN_HISTORY" default:"50"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs whose X-Real-IP / X-Forwarded-For headers are honoured
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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

// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	placeholderAPIKey = "your-api-key-here"
	historyDisabled   = "off"
)

// Config holds all application configuration.
type Config struct {
	// APIKey authenticates against the reasoning platform.
	APIKey string
	// Engine is used when a request names none.
	Engine string
	// BaseURL is the platform API root.
	BaseURL string
	// ArxivServiceURL is the public URL of the academic-search tool service.
	// Empty disables the academic tool.
	ArxivServiceURL string

	Host      string
	Port      int
	Debug     bool
	LogFormat string
	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string

	MaxRetries      int
	RetryDelay      time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	RequestTimeout  time.Duration
	// StreamTimeout bounds one research worker's lifetime.
	StreamTimeout  time.Duration
	WorkerPoolSize int

	// HistoryDBPath is the SQLite file for run history. Empty disables history.
	HistoryDBPath string
	// CatalogFile optionally overrides the engine and tool catalogs.
	CatalogFile string

	// Academic-search tool service settings.
	ArxivAddr      string
	ArxivAPIURL    string
	ArxivCacheSize int
	ArxivCacheTTL  time.Duration
}

// Load reads configuration and validates it for serving the research API.
// It loads .env file if present, but environment variables take precedence.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads configuration without validation, for commands that never call
// the platform.
func Read() *Config {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:          strings.TrimSpace(os.Getenv("SUBCONSCIOUS_API_KEY")),
		Engine:          envOr("SUBCONSCIOUS_ENGINE", "tim-gpt"),
		BaseURL:         strings.TrimRight(envOr("SUBCONSCIOUS_BASE_URL", "https://api.subconscious.dev/v1"), "/"),
		ArxivServiceURL: strings.TrimRight(strings.TrimSpace(os.Getenv("ARXIV_SERVICE_URL")), "/"),
		Host:            envOr("HOST", "0.0.0.0"),
		Port:            parseIntEnv("PORT", 8000),
		Debug:           parseBoolEnv("DEBUG", false),
		LogFormat:       strings.ToLower(envOr("LOG_FORMAT", "console")),
		CORSOrigins:     parseCSV(os.Getenv("CORS_ORIGINS")),
		APIToken:        strings.TrimSpace(os.Getenv("API_TOKEN")),
		MaxRetries:      parseIntEnv("MAX_RETRIES", 5),
		RetryDelay:      parseSecondsEnv("RETRY_DELAY", 10*time.Second),
		PollInterval:    parseSecondsEnv("POLL_INTERVAL", 2*time.Second),
		PollMaxAttempts: parseIntEnv("POLL_MAX_ATTEMPTS", 30),
		RequestTimeout:  parseSecondsEnv("REQUEST_TIMEOUT", 120*time.Second),
		StreamTimeout:   parseSecondsEnv("STREAM_TIMEOUT", 900*time.Second),
		WorkerPoolSize:  parseIntEnv("WORKER_POOL_SIZE", 10),
		HistoryDBPath:   envOr("HISTORY_DB_PATH", "data/history.db"),
		CatalogFile:     strings.TrimSpace(os.Getenv("CATALOG_FILE")),
		ArxivAddr:       envOr("ARXIV_ADDR", ":8001"),
		ArxivAPIURL:     envOr("ARXIV_API_URL", "http://export.arxiv.org/api/query"),
		ArxivCacheSize:  parseIntEnv("ARXIV_CACHE_SIZE", 256),
		ArxivCacheTTL:   parseDurationEnv("ARXIV_CACHE_TTL", 10*time.Minute),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	if strings.EqualFold(cfg.HistoryDBPath, historyDisabled) {
		cfg.HistoryDBPath = ""
	}
	if cfg.LogFormat != "json" {
		cfg.LogFormat = "console"
	}
	return cfg
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIKey == "" || c.APIKey == placeholderAPIKey {
		return errors.New("SUBCONSCIOUS_API_KEY is required")
	}
	if c.Engine == "" {
		c.Engine = "tim-gpt"
	}
	// ArxivServiceURL is optional - the academic tool is disabled without it
	return nil
}

// Issues lists configuration problems for the readiness probe. Only a missing
// API key makes the service not ready.
func (c *Config) Issues() (issues []string, ready bool) {
	ready = true
	if c.APIKey == "" || c.APIKey == placeholderAPIKey {
		issues = append(issues, "SUBCONSCIOUS_API_KEY not configured")
		ready = false
	}
	if c.ArxivServiceURL == "" {
		issues = append(issues, "ARXIV_SERVICE_URL not configured (ArXiv search disabled)")
	}
	return issues, ready
}

// Addr is the API listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HistoryEnabled reports whether finished runs are stored.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDBPath != ""
}

func envOr(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntEnv(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

// parseSecondsEnv reads a number of seconds, fractional allowed. A Go
// duration string such as "1m30s" is accepted too.
func parseSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return parseDurationEnv(key, defaultValue)
	}
	if seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return defaultValue
	}
	return time.Duration(seconds * float64(time.Second))
}

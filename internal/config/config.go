package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Crawl      CrawlConfig
	Browser    BrowserConfig
	Checkpoint CheckpointConfig
	Output     OutputConfig
	Status     StatusConfig
	Logging    LoggingConfig
}

type CrawlConfig struct {
	// Politeness delay applied before every outbound fetch.
	DelayMin time.Duration
	DelayMax time.Duration

	// Backoff escalation on failures.
	BackoffFactor  float64
	BackoffCeiling time.Duration

	// Bounded retries per listing page and per item page.
	MaxAttempts int

	// Consecutive blocked/captcha responses before the run aborts.
	BlockedAbortThreshold int

	// Upper bound on listing pages walked per brand.
	MaxPagesPerBrand int

	// Validate selectors against the first brand before a long run.
	SmokeTest bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
}

type CheckpointConfig struct {
	// Backend is "file" or "redis".
	Backend   string
	Path      string
	RedisAddr string
	RedisKey  string
}

type OutputConfig struct {
	// Backend is "json" or "postgres".
	Backend     string
	Path        string
	PostgresDSN string
}

type StatusConfig struct {
	// Addr of the progress HTTP endpoint; empty disables it.
	Addr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Crawl: CrawlConfig{
			DelayMin:              getDurationOrDefault("CRAWL_DELAY_MIN", 2*time.Second),
			DelayMax:              getDurationOrDefault("CRAWL_DELAY_MAX", 5*time.Second),
			BackoffFactor:         getFloatOrDefault("CRAWL_BACKOFF_FACTOR", 2.0),
			BackoffCeiling:        getDurationOrDefault("CRAWL_BACKOFF_CEILING", 5*time.Minute),
			MaxAttempts:           getIntOrDefault("CRAWL_MAX_ATTEMPTS", 3),
			BlockedAbortThreshold: getIntOrDefault("CRAWL_BLOCKED_ABORT_THRESHOLD", 5),
			MaxPagesPerBrand:      getIntOrDefault("CRAWL_MAX_PAGES_PER_BRAND", 100),
			SmokeTest:             getBoolOrDefault("CRAWL_SMOKE_TEST", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
		},
		Checkpoint: CheckpointConfig{
			Backend:   getEnvOrDefault("CHECKPOINT_BACKEND", "file"),
			Path:      getEnvOrDefault("CHECKPOINT_PATH", "data/checkpoint.json"),
			RedisAddr: getEnvOrDefault("CHECKPOINT_REDIS_ADDR", "localhost:6379"),
			RedisKey:  getEnvOrDefault("CHECKPOINT_REDIS_KEY", "chronocrawl:checkpoint"),
		},
		Output: OutputConfig{
			Backend:     getEnvOrDefault("OUTPUT_BACKEND", "json"),
			Path:        getEnvOrDefault("OUTPUT_PATH", "data/watches.json"),
			PostgresDSN: getEnvOrDefault("OUTPUT_POSTGRES_DSN", ""),
		},
		Status: StatusConfig{
			Addr: getEnvOrDefault("STATUS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Crawl.DelayMin > c.Crawl.DelayMax {
		return fmt.Errorf("CRAWL_DELAY_MIN cannot be greater than CRAWL_DELAY_MAX")
	}

	if c.Crawl.BackoffFactor <= 1.0 {
		return fmt.Errorf("CRAWL_BACKOFF_FACTOR must be greater than 1.0")
	}

	if c.Crawl.MaxAttempts < 1 {
		return fmt.Errorf("CRAWL_MAX_ATTEMPTS must be at least 1")
	}

	if c.Crawl.BlockedAbortThreshold < 1 {
		return fmt.Errorf("CRAWL_BLOCKED_ABORT_THRESHOLD must be at least 1")
	}

	switch c.Checkpoint.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown CHECKPOINT_BACKEND: %s", c.Checkpoint.Backend)
	}

	switch c.Output.Backend {
	case "json", "postgres":
	default:
		return fmt.Errorf("unknown OUTPUT_BACKEND: %s", c.Output.Backend)
	}

	if c.Output.Backend == "postgres" && c.Output.PostgresDSN == "" {
		return fmt.Errorf("OUTPUT_POSTGRES_DSN is required with the postgres backend")
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the BrandScope server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Providers ProvidersConfig
	Batch     BatchConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ProvidersConfig struct {
	Timeout    time.Duration
	OpenAI     OpenAIConfig
	Perplexity PerplexityConfig
	Gemini     GeminiConfig
	AIOverview AIOverviewConfig
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type PerplexityConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// AIOverviewConfig points at the internal overview-fetcher service, which
// authenticates with a shared service token rather than a vendor API key.
type AIOverviewConfig struct {
	BaseURL      string
	ServiceToken string
}

// BatchConfig tunes the micro-batch executor and reconciler. The staleness
// threshold and invocation budget are each a single config-driven value.
type BatchConfig struct {
	MicroBatchSize   int
	Budget           time.Duration
	StaleAfter       time.Duration
	MaxAttempts      int
	BreakerThreshold int
	MaxInFlight      int
	DriveInterval    time.Duration
	DriveMaxLoops    int
	DriveStallLimit  int
}

type SchedulerConfig struct {
	Enabled       bool
	ReconcileSpec string
	DailyScanSpec string
	CronSecret    string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("BRANDSCOPE_PORT", 8080),
			Env:  envString("BRANDSCOPE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Providers: ProvidersConfig{
			Timeout: envDuration("PROVIDER_TIMEOUT", 30*time.Second),
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Perplexity: PerplexityConfig{
				BaseURL: envString("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
				APIKey:  os.Getenv("PERPLEXITY_API_KEY"),
				Model:   envString("PERPLEXITY_MODEL", "sonar"),
			},
			Gemini: GeminiConfig{
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
			},
			AIOverview: AIOverviewConfig{
				BaseURL:      os.Getenv("AI_OVERVIEW_BASE_URL"),
				ServiceToken: os.Getenv("AI_OVERVIEW_SERVICE_TOKEN"),
			},
		},
		Batch: BatchConfig{
			MicroBatchSize:   envInt("BATCH_MICRO_BATCH_SIZE", 12),
			Budget:           envDuration("BATCH_BUDGET", 45*time.Second),
			StaleAfter:       envDuration("BATCH_STALE_AFTER", 5*time.Minute),
			MaxAttempts:      envInt("BATCH_MAX_ATTEMPTS", 3),
			BreakerThreshold: envInt("BATCH_BREAKER_THRESHOLD", 3),
			MaxInFlight:      envInt("BATCH_MAX_IN_FLIGHT", 3),
			DriveInterval:    envDuration("BATCH_DRIVE_INTERVAL", 5*time.Second),
			DriveMaxLoops:    envInt("BATCH_DRIVE_MAX_LOOPS", 120),
			DriveStallLimit:  envInt("BATCH_DRIVE_STALL_LIMIT", 5),
		},
		Scheduler: SchedulerConfig{
			Enabled:       envBool("SCHEDULER_ENABLED", true),
			ReconcileSpec: envString("SCHEDULER_RECONCILE_SPEC", "@every 2m"),
			DailyScanSpec: envString("SCHEDULER_DAILY_SCAN_SPEC", "0 6 * * *"),
			CronSecret:    os.Getenv("SCHEDULER_CRON_SECRET"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Providers.OpenAI.APIKey == "" &&
		c.Providers.Perplexity.APIKey == "" &&
		c.Providers.Gemini.APIKey == "" &&
		c.Providers.AIOverview.BaseURL == "" {
		return fmt.Errorf("at least one provider must be configured (OPENAI_API_KEY, PERPLEXITY_API_KEY, GEMINI_API_KEY, or AI_OVERVIEW_BASE_URL)")
	}

	if c.Providers.AIOverview.BaseURL != "" {
		if !strings.HasPrefix(c.Providers.AIOverview.BaseURL, "http://") &&
			!strings.HasPrefix(c.Providers.AIOverview.BaseURL, "https://") {
			return fmt.Errorf("AI_OVERVIEW_BASE_URL must start with http:// or https://, got %q", c.Providers.AIOverview.BaseURL)
		}
		if c.Providers.AIOverview.ServiceToken == "" {
			return fmt.Errorf("AI_OVERVIEW_SERVICE_TOKEN is required when AI_OVERVIEW_BASE_URL is set")
		}
	}

	if c.Batch.MicroBatchSize <= 0 {
		return fmt.Errorf("BATCH_MICRO_BATCH_SIZE must be positive, got %d", c.Batch.MicroBatchSize)
	}
	if c.Batch.Budget <= 0 {
		return fmt.Errorf("BATCH_BUDGET must be positive, got %s", c.Batch.Budget)
	}
	if c.Batch.StaleAfter <= 0 {
		return fmt.Errorf("BATCH_STALE_AFTER must be positive, got %s", c.Batch.StaleAfter)
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("BATCH_MAX_ATTEMPTS must be positive, got %d", c.Batch.MaxAttempts)
	}
	if c.Batch.MaxInFlight <= 0 {
		return fmt.Errorf("BATCH_MAX_IN_FLIGHT must be positive, got %d", c.Batch.MaxInFlight)
	}

	if c.Scheduler.Enabled && c.Scheduler.CronSecret == "" {
		return fmt.Errorf("SCHEDULER_CRON_SECRET is required when the scheduler is enabled")
	}

	return nil
}

// Configured reports whether a provider has enough config to be built.
func (c ProvidersConfig) Configured(name string) bool {
	switch name {
	case "openai":
		return c.OpenAI.APIKey != ""
	case "perplexity":
		return c.Perplexity.APIKey != ""
	case "gemini":
		return c.Gemini.APIKey != ""
	case "ai_overview":
		return c.AIOverview.BaseURL != ""
	default:
		return false
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

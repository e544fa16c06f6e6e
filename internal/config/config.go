// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rfpscout/rfpscout/internal/collab/ollama"
	"github.com/rfpscout/rfpscout/internal/frontier"
	"github.com/rfpscout/rfpscout/internal/policy/ratelimit"
	"github.com/rfpscout/rfpscout/internal/score"
	sinkpg "github.com/rfpscout/rfpscout/internal/sink/postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig    `mapstructure:"crawler"`
	Frontier  FrontierConfig   `mapstructure:"frontier"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Headless  HeadlessConfig   `mapstructure:"headless"`
	RateLimit ratelimit.Config `mapstructure:"ratelimit"`
	Scoring   ScoringConfig    `mapstructure:"scoring"`
	Ollama    OllamaConfig     `mapstructure:"ollama"`
	DB        DBConfig         `mapstructure:"db"`
	Blob      BlobConfig       `mapstructure:"blob"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	API       APIConfig        `mapstructure:"api"`
	Profile   ProfileConfig    `mapstructure:"profile"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig governs the orchestrator run loop and fetch behavior.
type CrawlerConfig struct {
	Seeds         []string      `mapstructure:"seeds"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxSteps      int           `mapstructure:"max_steps"`
	MaxDuration   time.Duration `mapstructure:"max_duration"`
	UserAgent     string        `mapstructure:"user_agent"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	SeedPriority  int           `mapstructure:"seed_priority"`
}

// FrontierConfig selects and tunes the crawl frontier.
type FrontierConfig struct {
	// Backend is "memory" or "redis".
	Backend           string        `mapstructure:"backend"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxRetries        int           `mapstructure:"max_retries"`
	AllowedDomains    []string      `mapstructure:"allowed_domains"`
	PerDomainLimit    int           `mapstructure:"per_domain_limit"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
}

// Policy converts the section into the frontier's own config type.
func (c FrontierConfig) Policy() frontier.Config {
	return frontier.Config{
		MaxDepth:          c.MaxDepth,
		MaxRetries:        c.MaxRetries,
		AllowedDomains:    c.AllowedDomains,
		PerDomainLimit:    c.PerDomainLimit,
		VisibilityTimeout: c.VisibilityTimeout,
		BackoffBase:       c.BackoffBase,
		BackoffMax:        c.BackoffMax,
	}
}

// RedisConfig locates the Redis frontier store.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// ScoringConfig holds aggregation weights.
type ScoringConfig struct {
	Weights score.Weights `mapstructure:"weights"`
}

// OllamaConfig toggles the scoring collaborators.
type OllamaConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	ollama.Config `mapstructure:",squash"`
}

// DBConfig controls the Postgres record sink.
type DBConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	sinkpg.Config `mapstructure:",squash"`
}

// BlobConfig selects the snapshot archive backend.
type BlobConfig struct {
	// Backend is "none", "local", or "gcs".
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for high-priority record notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// APIConfig controls the HTTP control surface.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// ProfileConfig points at the business profile file.
type ProfileConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RFPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.batch_size", 8)
	v.SetDefault("crawler.max_steps", 50)
	v.SetDefault("crawler.max_duration", "10m")
	v.SetDefault("crawler.user_agent", "rfpscout-bot/0.1")
	v.SetDefault("crawler.fetch_timeout", "15s")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.seed_priority", 10)

	v.SetDefault("frontier.backend", "memory")
	v.SetDefault("frontier.max_depth", 3)
	v.SetDefault("frontier.max_retries", 3)
	v.SetDefault("frontier.per_domain_limit", 0)
	v.SetDefault("frontier.visibility_timeout", "5m")
	v.SetDefault("frontier.backoff_base", "500ms")
	v.SetDefault("frontier.backoff_max", "1m")

	v.SetDefault("redis.namespace", "rfpscout")

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "45s")

	v.SetDefault("ratelimit.per_domain_rps", 1.0)
	v.SetDefault("ratelimit.burst", 1)

	v.SetDefault("scoring.weights.jaccard", 0.2)
	v.SetDefault("scoring.weights.cosine", 0.3)
	v.SetDefault("scoring.weights.llm", 0.5)

	v.SetDefault("ollama.enabled", false)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.timeout", "60s")

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.table", "records")

	v.SetDefault("blob.backend", "none")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic", "rfpscout.high-priority")

	v.SetDefault("api.port", 8080)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Configuration
// errors abort startup; nothing here can fail mid-run.
func (c Config) Validate() error {
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.MaxSteps <= 0 && c.Crawler.MaxDuration <= 0 {
		return fmt.Errorf("crawler needs a max_steps or max_duration budget")
	}
	switch c.Frontier.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when frontier.backend is redis")
		}
	default:
		return fmt.Errorf("unknown frontier.backend %q", c.Frontier.Backend)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db is enabled")
	}
	switch c.Blob.Backend {
	case "", "none":
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir is required when blob.backend is local")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q", c.Blob.Backend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub is enabled")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	return nil
}

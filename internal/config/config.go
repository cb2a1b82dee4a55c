// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSecs   int      `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AdmissionConfig sizes the batch admission gate.
type AdmissionConfig struct {
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
}

// PoolConfig sizes the shared worker pool.
type PoolConfig struct {
	Workers         int `mapstructure:"workers"`
	QueueDepth      int `mapstructure:"queue_depth"`
	SubmitTimeoutMs int `mapstructure:"submit_timeout_ms"`
}

// CrawlerConfig governs the fetch and processing pipeline.
type CrawlerConfig struct {
	UserAgent          string   `mapstructure:"user_agent"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
	RespectRobots      bool     `mapstructure:"respect_robots"`
	Verbose            bool     `mapstructure:"verbose"`
	WordCountThreshold int      `mapstructure:"word_count_threshold"`
	MaxPageBytes       int      `mapstructure:"max_page_bytes"`
	MaxURLsPerBatch    int      `mapstructure:"max_urls_per_batch"`
	Blocklist          []string `mapstructure:"blocklist"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	SettleMillis    int  `mapstructure:"settle_ms"`
}

// RateLimitConfig controls per-domain politeness.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// CacheConfig selects and configures the page cache.
type CacheConfig struct {
	Backend    string      `mapstructure:"backend"`
	TTLSeconds int         `mapstructure:"ttl_seconds"`
	KeyPrefix  string      `mapstructure:"key_prefix"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the Redis cache backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig controls access to the processed-count table. An empty DSN
// keeps counts in memory.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// StorageConfig selects where fetched pages are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	BaseDir     string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for batch notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LLMConfig configures the LLM extraction strategy.
type LLMConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
	BaseURL   string `mapstructure:"base_url"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Supported backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

// setDefaults also registers empty defaults for secrets so that
// AutomaticEnv picks them up during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("admission.max_concurrent_requests", 10)
	v.SetDefault("pool.workers", 8)
	v.SetDefault("pool.queue_depth", 256)
	v.SetDefault("pool.submit_timeout_ms", 5000)
	v.SetDefault("crawler.user_agent", "batchcrawler/0.1")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.verbose", false)
	v.SetDefault("crawler.word_count_threshold", 5)
	v.SetDefault("crawler.max_page_bytes", 10<<20)
	v.SetDefault("crawler.max_urls_per_batch", 100)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 2.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.key_prefix", "batchcrawler:page:")
	v.SetDefault("cache.redis.address", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "crawled_urls")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "batchcrawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Admission.MaxConcurrentRequests < 1 {
		return fmt.Errorf("admission.max_concurrent_requests must be >= 1")
	}
	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be >= 1")
	}
	if c.Pool.QueueDepth < 0 {
		return fmt.Errorf("pool.queue_depth must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.WordCountThreshold < 0 {
		return fmt.Errorf("crawler.word_count_threshold must be >= 0")
	}
	if c.Headless.SettleMillis < 0 {
		return fmt.Errorf("headless.settle_ms must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("cache.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of none, memory, redis", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout is the per-resource fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// CacheTTL is how long fetched pages stay cached. Zero keeps them forever.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SubmitTimeout bounds how long a batch waits for queue space per resource.
func (c Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Pool.SubmitTimeoutMs) * time.Millisecond
}

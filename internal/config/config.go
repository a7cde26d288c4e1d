// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable configuration snapshot consumed at task start.
type Config struct {
	Platform string        `mapstructure:"platform"`
	Mode     string        `mapstructure:"mode"`
	Crawl    CrawlConfig   `mapstructure:"crawl"`
	Session  SessionConfig `mapstructure:"session"`
	Signing  SigningConfig `mapstructure:"signing"`
	HTTP     HTTPConfig    `mapstructure:"http"`
	Governor GovernorConfig `mapstructure:"governor"`
	Proxy    ProxyConfig   `mapstructure:"proxy"`
	Sink     SinkConfig    `mapstructure:"sink"`
	Server   ServerConfig  `mapstructure:"server"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig shapes the task set built from the CLI input.
type CrawlConfig struct {
	Keywords           string `mapstructure:"keywords"`
	ItemURLs           []string `mapstructure:"item_urls"`
	CreatorIDs         []string `mapstructure:"creator_ids"`
	MaxItems           int    `mapstructure:"max_items"`
	StartPage          int    `mapstructure:"start_page"`
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks"`
	FailFast           bool   `mapstructure:"fail_fast"`
	TaskTimeoutSeconds int    `mapstructure:"task_timeout_seconds"`
}

// SessionConfig controls browser session creation.
type SessionConfig struct {
	Headless        bool   `mapstructure:"headless"`
	UserAgent       string `mapstructure:"user_agent"`
	CookieSource    string `mapstructure:"cookie_source"`
	LoginTimeoutSec int    `mapstructure:"login_timeout_seconds"`
}

// SigningConfig bounds in-page signature evaluation.
type SigningConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HTTPConfig configures the outbound request executor.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// GovernorConfig bounds concurrency, pacing and retry behavior.
type GovernorConfig struct {
	SlotsPerSession    int     `mapstructure:"slots_per_session"`
	MinIntervalMs      int     `mapstructure:"min_interval_ms"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffBaseMs      int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	TaskBackoffSeconds int     `mapstructure:"task_backoff_seconds"`
	MaxBanRotations    int     `mapstructure:"max_ban_rotations"`
}

// ProxyConfig supplies the egress pool.
type ProxyConfig struct {
	Endpoints        []string `mapstructure:"endpoints"`
	FailureThreshold int      `mapstructure:"failure_threshold"`
	CooldownSeconds  int      `mapstructure:"cooldown_seconds"`
}

// SinkConfig selects and configures the storage sink.
type SinkConfig struct {
	Provider     string `mapstructure:"provider"`
	OutputPath   string `mapstructure:"output_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisKeyTTL  int    `mapstructure:"redis_key_ttl_seconds"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic  string `mapstructure:"pubsub_topic"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform", "goofish")
	v.SetDefault("mode", "search")
	v.SetDefault("crawl.max_items", 200)
	v.SetDefault("crawl.start_page", 1)
	v.SetDefault("crawl.max_concurrent_tasks", 2)
	v.SetDefault("crawl.fail_fast", false)
	v.SetDefault("crawl.task_timeout_seconds", 1800)
	v.SetDefault("session.headless", true)
	v.SetDefault("session.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("session.login_timeout_seconds", 600)
	v.SetDefault("signing.timeout_seconds", 10)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("governor.slots_per_session", 1)
	v.SetDefault("governor.min_interval_ms", 2000)
	v.SetDefault("governor.max_retries", 3)
	v.SetDefault("governor.backoff_base_ms", 500)
	v.SetDefault("governor.backoff_max_ms", 30000)
	v.SetDefault("governor.task_backoff_seconds", 30)
	v.SetDefault("governor.max_ban_rotations", 2)
	v.SetDefault("proxy.failure_threshold", 3)
	v.SetDefault("proxy.cooldown_seconds", 60)
	v.SetDefault("sink.provider", "jsonl")
	v.SetDefault("sink.output_path", "data/items.jsonl")
	v.SetDefault("sink.redis_key_ttl_seconds", 86400)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform must be set")
	}
	switch c.Mode {
	case "search", "detail", "creator":
	default:
		return fmt.Errorf("mode must be one of search, detail, creator; got %q", c.Mode)
	}
	if c.Crawl.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("crawl.max_concurrent_tasks must be > 0")
	}
	if c.Signing.TimeoutSeconds <= 0 {
		return fmt.Errorf("signing.timeout_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Governor.MaxRetries < 0 {
		return fmt.Errorf("governor.max_retries must be >= 0")
	}
	if c.Governor.SlotsPerSession <= 0 {
		return fmt.Errorf("governor.slots_per_session must be > 0")
	}
	if c.Proxy.FailureThreshold <= 0 {
		return fmt.Errorf("proxy.failure_threshold must be > 0")
	}
	return nil
}

// SigningTimeout converts the signing timeout to a duration.
func (c Config) SigningTimeout() time.Duration {
	return time.Duration(c.Signing.TimeoutSeconds) * time.Second
}

// HTTPTimeout converts the HTTP timeout to a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// TaskTimeout converts the task budget to a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Crawl.TaskTimeoutSeconds) * time.Second
}

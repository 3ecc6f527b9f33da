// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is a desktop Chrome string sent by the headless browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/94.0.4606.81 Safari/537.36"

// Cache store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Browser BrowserConfig `mapstructure:"browser"`
	Preview PreviewConfig `mapstructure:"preview"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CacheConfig selects and tunes the preview cache.
type CacheConfig struct {
	Store             string        `mapstructure:"store"`
	RedisURL          string        `mapstructure:"redis_url"`
	TTLSeconds        int           `mapstructure:"ttl_seconds"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadyPollInterval time.Duration `mapstructure:"ready_poll_interval"`
	RefreshTimeout    time.Duration `mapstructure:"refresh_timeout"`
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BrowserConfig configures headless Chrome sessions.
type BrowserConfig struct {
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	Referer        string        `mapstructure:"referer"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	NavAttempts    int           `mapstructure:"nav_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	ReadyMinChars  int           `mapstructure:"ready_min_chars"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	ViewportJitter int           `mapstructure:"viewport_jitter"`
	DomainQPS      float64       `mapstructure:"domain_qps"`
}

// PreviewConfig governs the orchestrators.
type PreviewConfig struct {
	MaxBatch     int  `mapstructure:"max_batch"`
	SingleFlight bool `mapstructure:"single_flight"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span recording.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Variables use the PREVIEW_
// prefix (PREVIEW_CACHE_REDIS_URL); PORT, REDIS_URL and REDIS_EXPIRE are
// also honored.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("cache.store", StoreRedis)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.connect_timeout", 10*time.Second)
	v.SetDefault("cache.ready_poll_interval", 500*time.Millisecond)
	v.SetDefault("cache.refresh_timeout", 5*time.Second)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.referer", "https://www.google.com/")
	v.SetDefault("browser.launch_timeout", 20*time.Second)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.nav_attempts", 3)
	v.SetDefault("browser.retry_delay", 2*time.Second)
	v.SetDefault("browser.ready_timeout", 10*time.Second)
	v.SetDefault("browser.ready_min_chars", 20)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.viewport_jitter", 0)
	v.SetDefault("browser.domain_qps", 0)
	v.SetDefault("preview.max_batch", 10)
	v.SetDefault("preview.single_flight", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "previewd")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// bindLegacyEnv keeps the deployment variable names of the original service
// working alongside the prefixed ones. The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":       {"PREVIEW_SERVER_PORT", "PORT"},
		"cache.redis_url":   {"PREVIEW_CACHE_REDIS_URL", "REDIS_URL"},
		"cache.ttl_seconds": {"PREVIEW_CACHE_TTL_SECONDS", "REDIS_EXPIRE"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Store {
	case StoreRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url must be set for the redis store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("cache.store must be %q or %q, got %q", StoreRedis, StoreMemory, c.Cache.Store)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.Browser.NavAttempts <= 0 {
		return fmt.Errorf("browser.nav_attempts must be > 0")
	}
	if c.Browser.NavTimeout <= 0 || c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout and browser.launch_timeout must be > 0")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be > 0")
	}
	if c.Browser.ViewportJitter < 0 || c.Browser.DomainQPS < 0 {
		return fmt.Errorf("browser.viewport_jitter and browser.domain_qps must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Preview.MaxBatch <= 0 {
		return fmt.Errorf("preview.max_batch must be > 0")
	}
	return nil
}

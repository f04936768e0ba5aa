// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min" yaml:"rate_limit_per_min"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// BrowserConfig controls the shared Chrome process and per-session behavior.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxSessions       int64         `mapstructure:"max_sessions" yaml:"max_sessions"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PlannerConfig controls the planning-model call. The API key is never read
// from the config file; it is bound to the environment at startup and its
// absence is startup-fatal, not a per-request error.
type PlannerConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SessionConfig controls session-store lifecycle.
type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

// RetryConfig controls the locator-primitive retry policy. Conservative
// defaults, overridable rather than guessed.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.rate_limit_per_min", 60)
	v.SetDefault("server.rate_burst", 10)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.max_sessions", 8)
	v.SetDefault("browser.action_timeout", "25s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1500ms")

	// -- Planner --
	v.SetDefault("planner.model", "gemini-2.0-flash")
	v.SetDefault("planner.timeout", "30s")
	v.SetDefault("planner.temperature", 0.2)
	v.SetDefault("planner.max_tokens", 1024)

	// -- Session store --
	v.SetDefault("session.ttl", "10m")
	v.SetDefault("session.reap_interval", "1m")

	// -- Retry --
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "5s")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds the configuration from a prepared viper instance,
// binding sensitive values from the environment.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("planner.api_key", "GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Viper occasionally misses BindEnv keys absent from the file.
	if cfg.Planner.APIKey == "" {
		cfg.Planner.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot safely start with.
func (c *Config) Validate() error {
	if c.Planner.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is not set; the planner cannot operate without it")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Browser.MaxSessions < 1 {
		return fmt.Errorf("browser.max_sessions must be at least 1, got %d", c.Browser.MaxSessions)
	}
	return nil
}

// Package config loads application configuration from file and
// environment via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Review   ReviewConfig   `mapstructure:"review"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`

	// DemoScenarios exposes the destructive scenario-loading endpoints.
	// Never enable against a database you care about.
	DemoScenarios bool `mapstructure:"demo_scenarios"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ResolverConfig holds the identity resolution tunables.
type ResolverConfig struct {
	AcceptThreshold  float64 `mapstructure:"accept_threshold"`
	ContextThreshold float64 `mapstructure:"context_threshold"`
	RecentWindowDays int     `mapstructure:"recent_window_days"`
}

// CacheConfig holds the identity read-cache configuration.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ReviewConfig holds the review queue sweep configuration.
type ReviewConfig struct {
	SweepEnabled  bool          `mapstructure:"sweep_enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration. configPath may be empty, in which case
// defaults and environment variables alone apply.
func Load(configPath string) (*Config, error) {
	setDefaults()
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	viper.SetDefault("database.path", "data/payroll.db")

	viper.SetDefault("resolver.accept_threshold", 0.70)
	viper.SetDefault("resolver.context_threshold", 0.55)
	viper.SetDefault("resolver.recent_window_days", 30)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.size", 4096)
	viper.SetDefault("cache.ttl", 5*time.Minute)

	viper.SetDefault("server.demo_scenarios", false)

	viper.SetDefault("review.sweep_enabled", true)
	viper.SetDefault("review.sweep_interval", time.Hour)
	viper.SetDefault("review.stale_after", 48*time.Hour)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration.
func bindEnvVars() {
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logger.level", "LOG_LEVEL")
	viper.BindEnv("server.demo_scenarios", "DEMO_SCENARIOS")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Resolver.AcceptThreshold <= 0 || c.Resolver.AcceptThreshold > 1 {
		return fmt.Errorf("resolver.accept_threshold must be in (0, 1]")
	}
	if c.Resolver.ContextThreshold <= 0 || c.Resolver.ContextThreshold > c.Resolver.AcceptThreshold {
		return fmt.Errorf("resolver.context_threshold must be in (0, accept_threshold]")
	}
	if c.Resolver.RecentWindowDays <= 0 {
		return fmt.Errorf("resolver.recent_window_days must be positive")
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive when the cache is enabled")
	}
	if c.Review.SweepEnabled && c.Review.SweepInterval <= 0 {
		return fmt.Errorf("review.sweep_interval must be positive when the sweep is enabled")
	}
	return nil
}

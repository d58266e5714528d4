// Package config resolves runtime settings from defaults, an optional config file,
// and SCREENER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/liamcoop/screener/screener"
)

// EnvPrefix is prepended to every environment variable key
const EnvPrefix = "SCREENER"

// Config holds the resolved settings for the server and CLI
type Config struct {
	Addr            string        `mapstructure:"addr"`
	DatabaseURL     string        `mapstructure:"database_url"`
	RedisURL        string        `mapstructure:"redis_url"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	LogLevel        string        `mapstructure:"log_level"`
	ErrorSampleRate int           `mapstructure:"error_sample_rate"`
	OTELEnabled     bool          `mapstructure:"otel_enabled"`
	OTELServiceName string        `mapstructure:"otel_service_name"`
	CostLimit       uint64        `mapstructure:"cost_limit"`
	SeedFile        string        `mapstructure:"seed_file"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("error_sample_rate", 100)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_service_name", "screener")
	v.SetDefault("cost_limit", screener.DefaultCostLimit)
	v.SetDefault("seed_file", "")
}

// Load resolves a Config from v. When configFile is empty a screener.yaml in
// the working directory is read if present.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("screener")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative, got %s", c.CacheTTL)
	}
	if c.ErrorSampleRate < 1 {
		return fmt.Errorf("error_sample_rate must be at least 1, got %d", c.ErrorSampleRate)
	}
	if c.CostLimit == 0 {
		return errors.New("cost_limit must be positive")
	}
	return nil
}

// Package config loads the resilience layer's configuration from a file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/developer-mesh/resilient-client/pkg/cache"
	"github.com/developer-mesh/resilient-client/pkg/client"
	"github.com/developer-mesh/resilient-client/pkg/resilience"
)

// Config is the root configuration for the resilience layer. Dependencies
// maps a dependency name ("vector-search", "llm-completion") to its client
// configuration; unlisted dependencies get the defaults.
type Config struct {
	Local        cache.LocalConfig                       `mapstructure:"local"`
	Redis        cache.RedisConfig                       `mapstructure:"redis"`
	Retry        resilience.RetryConfig                  `mapstructure:"retry"`
	Breakers     map[string]resilience.BreakerConfig     `mapstructure:"breakers"`
	RateLimits   map[string]resilience.RateLimiterConfig `mapstructure:"rate_limits"`
	Dependencies map[string]client.Config                `mapstructure:"dependencies"`
	DefaultTTL   time.Duration                           `mapstructure:"default_ttl"`
	DedupWindow  time.Duration                           `mapstructure:"dedup_window"`
}

// Load reads configuration from the given file path. Environment variables
// prefixed with RESILIENT_ override file values (RESILIENT_REDIS_ADDRESS
// overrides redis.address). A missing file is not an error; defaults and
// environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RESILIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local.max_entries", 1000)
	v.SetDefault("local.max_bytes", 64*1024*1024)
	v.SetDefault("local.default_ttl", 15*time.Minute)
	v.SetDefault("local.cleanup_interval", time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.op_timeout", 500*time.Millisecond)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("retry.max_interval", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.randomization_factor", 0.3)
	v.SetDefault("retry.attempt_timeout", 30*time.Second)

	v.SetDefault("default_ttl", 15*time.Minute)
	v.SetDefault("dedup_window", 5*time.Second)
}

// Package config handles configuration for the retrieval gateway
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/meshworks/rag-gateway/internal/cache"
)

// Config is the complete gateway configuration
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// ServiceConfig contains service-level settings
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

// CacheConfig contains the two-tier cache settings
type CacheConfig struct {
	Fast   FastTierConfig    `mapstructure:"fast"`
	Shared cache.RedisConfig `mapstructure:"shared"`

	// SharedTTLSeconds maps namespace to shared-tier TTL. For every
	// namespace the shared TTL must be at least the fast TTL.
	SharedTTLSeconds map[string]int `mapstructure:"shared_ttl_seconds"`
}

// FastTierConfig contains the in-process tier settings
type FastTierConfig struct {
	MaxItems        int           `mapstructure:"max_items"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	// TTLSeconds maps namespace to fast-tier TTL
	TTLSeconds map[string]int `mapstructure:"ttl_seconds"`
}

// Load reads configuration from rag-gateway.yaml and the environment,
// falling back to defaults when neither is present
func Load() (*Config, error) {
	viper.SetConfigName("rag-gateway")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/rag-gateway")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults and env vars suffice
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Service defaults
	viper.SetDefault("service.port", 8085)
	viper.SetDefault("service.shutdown_timeout", "30s")
	viper.SetDefault("service.log_level", "info")

	// Fast tier defaults
	viper.SetDefault("cache.fast.max_items", cache.DefaultFastMaxItems)
	viper.SetDefault("cache.fast.janitor_interval", "1m")
	viper.SetDefault("cache.fast.ttl_seconds.embedding", 3600)
	viper.SetDefault("cache.fast.ttl_seconds.query-result", 3600)

	// Shared tier defaults
	viper.SetDefault("cache.shared.enabled", true)
	viper.SetDefault("cache.shared.address", "localhost:6379")
	viper.SetDefault("cache.shared.database", 0)
	viper.SetDefault("cache.shared.dial_timeout", "5s")
	viper.SetDefault("cache.shared.read_timeout", "2s")
	viper.SetDefault("cache.shared.write_timeout", "2s")
	viper.SetDefault("cache.shared.operation_timeout", "2s")
	viper.SetDefault("cache.shared.pool_size", 10)
	viper.SetDefault("cache.shared.min_idle_conns", 2)
	viper.SetDefault("cache.shared.compression_threshold", cache.DefaultCompressionThreshold)
	viper.SetDefault("cache.shared.key_prefix", "raggw:")
	viper.SetDefault("cache.shared.max_dial_retries", 3)
	viper.SetDefault("cache.shared_ttl_seconds.embedding", 86400)
	viper.SetDefault("cache.shared_ttl_seconds.query-result", 86400)
}

func bindEnvVars() {
	// Standard Redis env vars shared with the other services
	_ = viper.BindEnv("cache.shared.address", "REDIS_ADDR")
	_ = viper.BindEnv("cache.shared.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("cache.shared.enabled", "RAG_GATEWAY_REDIS_ENABLED")
	_ = viper.BindEnv("cache.fast.max_items", "RAG_GATEWAY_FAST_MAX_ITEMS")
	_ = viper.BindEnv("service.port", "RAG_GATEWAY_PORT")
	_ = viper.BindEnv("service.log_level", "RAG_GATEWAY_LOG_LEVEL")
}

func validate(config *Config) error {
	if config.Cache.Fast.MaxItems <= 0 {
		return fmt.Errorf("cache.fast.max_items must be positive, got %d", config.Cache.Fast.MaxItems)
	}
	if config.Service.Port <= 0 || config.Service.Port > 65535 {
		return fmt.Errorf("service.port out of range: %d", config.Service.Port)
	}
	for ns, fastSeconds := range config.Cache.Fast.TTLSeconds {
		if fastSeconds <= 0 {
			return fmt.Errorf("cache.fast.ttl_seconds.%s must be positive, got %d", ns, fastSeconds)
		}
		// A namespace with no explicit shared TTL runs with the shared
		// default, which must still dominate the fast TTL
		sharedSeconds := int(cache.DefaultSharedTTL / time.Second)
		if s, ok := config.Cache.SharedTTLSeconds[ns]; ok {
			sharedSeconds = s
		}
		if sharedSeconds < fastSeconds {
			return fmt.Errorf("cache.shared_ttl_seconds.%s (%d) must be >= cache.fast.ttl_seconds.%s (%d)",
				ns, sharedSeconds, ns, fastSeconds)
		}
	}
	for ns, sharedSeconds := range config.Cache.SharedTTLSeconds {
		if sharedSeconds <= 0 {
			return fmt.Errorf("cache.shared_ttl_seconds.%s must be positive, got %d", ns, sharedSeconds)
		}
		fastSeconds := int(cache.DefaultFastTTL / time.Second)
		if f, ok := config.Cache.Fast.TTLSeconds[ns]; ok {
			fastSeconds = f
		}
		if sharedSeconds < fastSeconds {
			return fmt.Errorf("cache.shared_ttl_seconds.%s (%d) must be >= the fast tier TTL for that namespace (%d)",
				ns, sharedSeconds, fastSeconds)
		}
	}
	return nil
}

// TieredConfig converts the loaded settings into the orchestrator's config
func (c *Config) TieredConfig() cache.TieredConfig {
	cfg := cache.TieredConfig{
		FastMaxItems:    c.Cache.Fast.MaxItems,
		JanitorInterval: c.Cache.Fast.JanitorInterval,
		FastTTL:         make(map[cache.Namespace]time.Duration),
		SharedTTL:       make(map[cache.Namespace]time.Duration),
	}
	for ns, seconds := range c.Cache.Fast.TTLSeconds {
		cfg.FastTTL[cache.Namespace(ns)] = time.Duration(seconds) * time.Second
	}
	for ns, seconds := range c.Cache.SharedTTLSeconds {
		cfg.SharedTTL[cache.Namespace(ns)] = time.Duration(seconds) * time.Second
	}
	return cfg
}

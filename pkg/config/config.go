// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

// Config is the resolved configuration of one worker process.
type Config struct {
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	HTTP           HTTPConfig
	LogLevel       string
	SampleInterval time.Duration
}

// RedisConfig locates the coordination store.
type RedisConfig struct {
	Host             string
	Port             int
	Password         string
	DB               int
	KeyPrefix        string
	OperationTimeout time.Duration
}

// RateLimitConfig holds the general and authentication limits.
type RateLimitConfig struct {
	Strategy   distributed.Strategy
	Window     time.Duration
	Max        int
	AuthWindow time.Duration
	AuthMax    int
}

// HTTPConfig is the listen address of the demo worker.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// env mirrors the environment variables one to one.
type env struct {
	RedisHost       string        `mapstructure:"redis_host"`
	RedisPort       int           `mapstructure:"redis_port"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisKeyPrefix  string        `mapstructure:"redis_key_prefix"`
	RedisOpTimeout  time.Duration `mapstructure:"redis_op_timeout"`
	WindowMs        int64         `mapstructure:"rate_limit_window_ms"`
	MaxRequests     int           `mapstructure:"rate_limit_max_requests"`
	AuthWindowMs    int64         `mapstructure:"auth_rate_limit_window_ms"`
	AuthMaxRequests int           `mapstructure:"auth_rate_limit_max_requests"`
	Strategy        string        `mapstructure:"rate_limit_strategy"`
	HTTPHost        string        `mapstructure:"http_host"`
	HTTPPort        int           `mapstructure:"http_port"`
	LogLevel        string        `mapstructure:"log_level"`
	SampleInterval  time.Duration `mapstructure:"metrics_sample_interval"`
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "app:")
	v.SetDefault("redis_op_timeout", "2s")
	v.SetDefault("rate_limit_window_ms", 900000)
	v.SetDefault("rate_limit_max_requests", 100)
	v.SetDefault("auth_rate_limit_window_ms", 900000)
	v.SetDefault("auth_rate_limit_max_requests", 5)
	v.SetDefault("rate_limit_strategy", "fixed")
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 10000)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_sample_interval", "5s")
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom reads the configuration through v. Unset values take their
// defaults; malformed values are an error.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return nil, fmt.Errorf("%w: %v", gferrors.ErrInvalidConfiguration, err)
	}

	strategy, err := distributed.ParseStrategy(e.Strategy)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Redis: RedisConfig{
			Host:             e.RedisHost,
			Port:             e.RedisPort,
			Password:         e.RedisPassword,
			DB:               e.RedisDB,
			KeyPrefix:        e.RedisKeyPrefix,
			OperationTimeout: e.RedisOpTimeout,
		},
		RateLimit: RateLimitConfig{
			Strategy:   strategy,
			Window:     time.Duration(e.WindowMs) * time.Millisecond,
			Max:        e.MaxRequests,
			AuthWindow: time.Duration(e.AuthWindowMs) * time.Millisecond,
			AuthMax:    e.AuthMaxRequests,
		},
		HTTP:           HTTPConfig{Host: e.HTTPHost, Port: e.HTTPPort},
		LogLevel:       e.LogLevel,
		SampleInterval: e.SampleInterval,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	checks := []error{
		validation.ValidateNotEmpty("config", "REDIS_HOST", c.Redis.Host),
		validation.ValidatePort("config", "REDIS_PORT", c.Redis.Port),
		validation.ValidateNonNegative("config", "REDIS_DB", c.Redis.DB),
		validation.ValidatePositiveDuration("config", "REDIS_OP_TIMEOUT", c.Redis.OperationTimeout),
		validation.ValidateWindow("config", "RATE_LIMIT_WINDOW_MS", c.RateLimit.Window),
		validation.ValidatePositive("config", "RATE_LIMIT_MAX_REQUESTS", c.RateLimit.Max),
		validation.ValidateWindow("config", "AUTH_RATE_LIMIT_WINDOW_MS", c.RateLimit.AuthWindow),
		validation.ValidatePositive("config", "AUTH_RATE_LIMIT_MAX_REQUESTS", c.RateLimit.AuthMax),
		validation.ValidatePort("config", "HTTP_PORT", c.HTTP.Port),
		validation.ValidatePositiveDuration("config", "METRICS_SAMPLE_INTERVAL", c.SampleInterval),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return gferrors.NewValidationError("config", "LOG_LEVEL", c.LogLevel, err.Error()).
			WithHint("use debug, info, warn or error")
	}
	return nil
}

// Store returns the store client configuration.
func (c *Config) Store() store.Config {
	sc := store.DefaultConfig()
	sc.Host = c.Redis.Host
	sc.Port = c.Redis.Port
	sc.Password = c.Redis.Password
	sc.DB = c.Redis.DB
	sc.KeyPrefix = c.Redis.KeyPrefix
	sc.OperationTimeout = c.Redis.OperationTimeout
	return sc
}

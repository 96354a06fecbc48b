package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/internal/testutil"
	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.Redis.Host, "localhost")
	testutil.AssertEqual(t, cfg.Redis.Port, 6379)
	testutil.AssertEqual(t, cfg.Redis.KeyPrefix, "app:")
	testutil.AssertEqual(t, cfg.Redis.OperationTimeout, 2*time.Second)
	testutil.AssertEqual(t, cfg.RateLimit.Strategy, distributed.FixedWindow)
	testutil.AssertEqual(t, cfg.RateLimit.Window, 15*time.Minute)
	testutil.AssertEqual(t, cfg.RateLimit.Max, 100)
	testutil.AssertEqual(t, cfg.RateLimit.AuthWindow, 15*time.Minute)
	testutil.AssertEqual(t, cfg.RateLimit.AuthMax, 5)
	testutil.AssertEqual(t, cfg.HTTP.Addr(), "0.0.0.0:10000")
	testutil.AssertEqual(t, cfg.LogLevel, "info")
	testutil.AssertEqual(t, cfg.SampleInterval, 5*time.Second)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_KEY_PREFIX", "forum:")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "60000")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	t.Setenv("AUTH_RATE_LIMIT_MAX_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_STRATEGY", "sliding")
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("METRICS_SAMPLE_INTERVAL", "1s")

	cfg, err := Load()
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, cfg.Redis.Host, "redis.internal")
	testutil.AssertEqual(t, cfg.Redis.Port, 6380)
	testutil.AssertEqual(t, cfg.Redis.DB, 2)
	testutil.AssertEqual(t, cfg.RateLimit.Window, time.Minute)
	testutil.AssertEqual(t, cfg.RateLimit.Max, 5)
	testutil.AssertEqual(t, cfg.RateLimit.AuthMax, 3)
	testutil.AssertEqual(t, cfg.RateLimit.Strategy, distributed.SlidingWindow)
	testutil.AssertEqual(t, cfg.HTTP.Port, 8080)
	testutil.AssertEqual(t, cfg.SampleInterval, time.Second)

	sc := cfg.Store()
	testutil.AssertEqual(t, sc.Addr(), "redis.internal:6380")
	testutil.AssertEqual(t, sc.Password, "secret")
	testutil.AssertEqual(t, sc.KeyPrefix, "forum:")
	testutil.AssertEqual(t, sc.DB, 2)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "REDIS_PORT", "sixthousand"},
		{"port out of range", "HTTP_PORT", "70000"},
		{"zero window", "RATE_LIMIT_WINDOW_MS", "0"},
		{"negative max", "RATE_LIMIT_MAX_REQUESTS", "-1"},
		{"auth max zero", "AUTH_RATE_LIMIT_MAX_REQUESTS", "0"},
		{"unknown strategy", "RATE_LIMIT_STRATEGY", "token_bucket"},
		{"bad duration", "REDIS_OP_TIMEOUT", "soon"},
		{"unknown log level", "LOG_LEVEL", "loud"},
		{"negative db", "REDIS_DB", "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			testutil.AssertError(t, err)
			if !gferrors.IsValidationError(err) && !errors.Is(err, gferrors.ErrInvalidConfiguration) {
				t.Errorf("expected a configuration error, got %v", err)
			}
		})
	}
}

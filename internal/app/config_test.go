package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STOREFRONT_DATABASE_URL", "postgres://localhost/storefront")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, "ORD", cfg.Orders.NumberPrefix)
	assert.Equal(t, SequencerPostgres, cfg.Orders.Sequencer)
	assert.Equal(t, 24*time.Hour, cfg.Orders.IdempotencyTTL)
	assert.False(t, cfg.Orders.StrictTransitions)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Zero(t, cfg.RateLimit.PerKey)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/app")
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_URL", "redis://:secret@cache:6380/2")
	t.Setenv("STOREFRONT_ORDERS_SEQUENCER", "Redis")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/app", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, RedisConfig{Addr: "cache:6380", Password: "secret", DB: 2}, cfg.Redis)
	assert.Equal(t, SequencerRedis, cfg.Orders.Sequencer)
}

func TestLoadConfig_MissingDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := loadConfig(true)
	require.ErrorContains(t, err, "database URL is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/storefront",
			Orders:      OrdersConfig{Sequencer: SequencerPostgres, Timezone: "UTC"},
			RateLimit:   RateLimitConfig{Max: 10, Window: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "redis sequencer without redis", mutate: func(c *Config) { c.Orders.Sequencer = SequencerRedis }, wantErr: "requires"},
		{name: "redis sequencer", mutate: func(c *Config) {
			c.Orders.Sequencer = SequencerRedis
			c.Redis.Addr = "localhost:6379"
		}},
		{name: "unknown sequencer", mutate: func(c *Config) { c.Orders.Sequencer = "memory" }, wantErr: "unknown order sequencer"},
		{name: "bad timezone", mutate: func(c *Config) { c.Orders.Timezone = "Mars/Olympus" }, wantErr: "load timezone"},
		{name: "zero rate limit", mutate: func(c *Config) { c.RateLimit.Max = 0 }, wantErr: "rate limit"},
		{name: "negative per key limit", mutate: func(c *Config) { c.RateLimit.PerKey = -1 }, wantErr: "per key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRedisConfig_FromURL(t *testing.T) {
	var c RedisConfig
	require.NoError(t, c.fromURL("redis://localhost:6379"))
	assert.Equal(t, RedisConfig{Addr: "localhost:6379"}, c)

	require.Error(t, (&RedisConfig{}).fromURL("http://localhost"))
	require.Error(t, (&RedisConfig{}).fromURL("redis://localhost/abc"))
}

package app

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Sequencer backends for order numbers.
const (
	SequencerPostgres = "postgres"
	SequencerRedis    = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product images" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STOREFRONT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Secure       SecureConfig
	Graceful     GracefulConfig
	Worker       WorkerConfig
}

// RedisConfig locates the Redis server used for order counters,
// idempotency keys and the job queue. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address host:port (STOREFRONT_REDIS_ADDR or REDIS_URL)"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// OrdersConfig tunes order placement and the status workflow.
type OrdersConfig struct {
	NumberPrefix      string        `default:"ORD" usage:"Prefix of human-readable order numbers"`
	Sequencer         string        `default:"postgres" usage:"Order number counter backend: postgres or redis"`
	StrictTransitions bool          `default:"false" usage:"Reject backward or terminal order status changes" flag:"strict-transitions"`
	Timezone          string        `default:"UTC" usage:"IANA timezone deciding the order number day"`
	IdempotencyTTL    time.Duration `default:"24h" usage:"How long Idempotency-Key replays are remembered"`
}

// Location resolves Timezone.
func (c OrdersConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", c.Timezone)
	}
	return loc, nil
}

// RateLimitConfig controls the sliding window rate limiters. Max applies per
// client IP; PerKey, when set, adds a budget per API key on top of it.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	PerKey int           `default:"0" usage:"Max requests per window per API key, 0 disables" flag:"rate-limit-per-key"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// SecureConfig controls security response headers.
type SecureConfig struct {
	SSLRedirect bool  `default:"false" usage:"Redirect plain HTTP to HTTPS" flag:"ssl-redirect"`
	HSTSSeconds int64 `default:"0" usage:"Strict-Transport-Security max-age, 0 disables" flag:"hsts-seconds"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// WorkerConfig tunes the background job worker.
type WorkerConfig struct {
	Concurrency int `default:"5" usage:"Number of tasks processed in parallel"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that defaults cannot fix.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	switch c.Orders.Sequencer {
	case SequencerPostgres:
	case SequencerRedis:
		if !c.Redis.Enabled() {
			return errors.New("redis sequencer requires STOREFRONT_REDIS_ADDR")
		}
	default:
		return errors.Errorf("unknown order sequencer %q", c.Orders.Sequencer)
	}
	if _, err := c.Orders.Location(); err != nil {
		return err
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if c.RateLimit.PerKey < 0 {
		return errors.New("rate limit per key must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) such as DATABASE_URL, REDIS_URL and PORT onto the
// STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			if err := c.Redis.fromURL(v); err != nil {
				return err
			}
		}
	}
	c.Orders.Sequencer = strings.ToLower(strings.TrimSpace(c.Orders.Sequencer))
	return nil
}

// fromURL fills the config from a redis://[:password@]host:port[/db] URL.
func (c *RedisConfig) fromURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "parse REDIS_URL")
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return errors.Errorf("REDIS_URL: unsupported scheme %q", u.Scheme)
	}
	c.Addr = u.Host
	if pw, ok := u.User.Password(); ok {
		c.Password = pw
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return errors.Errorf("REDIS_URL: bad database %q", db)
		}
		c.DB = n
	}
	return nil
}

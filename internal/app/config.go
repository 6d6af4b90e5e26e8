package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the discount service configuration, loadable from environment
// variables (DISCOUNTS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (DISCOUNTS_DATABASE_URL or DATABASE_URL)"`
	Redis       RedisConfig
	CodeFilter  CodeFilterConfig
	Discounts   DiscountsConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// RedisConfig enables the shared coupon cache when URL is set. Entries live
// for TTL; coupon-import drops the entries of codes it writes.
type RedisConfig struct {
	URL string        `usage:"Redis URL for the coupon cache (DISCOUNTS_REDIS_URL or REDIS_URL)"`
	TTL time.Duration `default:"5m" usage:"Coupon cache entry TTL"`
}

// CodeFilterConfig controls the in-memory bloom filter of known coupon codes.
type CodeFilterConfig struct {
	Enabled           bool          `default:"false" usage:"Reject unknown coupon codes before hitting storage"`
	Capacity          uint          `default:"100000" usage:"Expected number of coupon codes"`
	FalsePositiveRate float64       `default:"0.001" usage:"Bloom filter false positive rate"`
	RefreshInterval   time.Duration `default:"5m" usage:"How often the filter is rebuilt"`
}

// DiscountsConfig tunes the formatter.
type DiscountsConfig struct {
	DefaultLabel string `default:"Discount" usage:"Label used when a discount has none"`
	CacheMisses  bool   `default:"false" usage:"Remember unknown coupon codes for the rest of a request"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DISCOUNTS",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/discounts/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the unprefixed variables set by hosting platforms
// (DATABASE_URL, REDIS_URL, PORT) onto the config.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set DISCOUNTS_DATABASE_URL or DATABASE_URL")
	}
	if c.CodeFilter.Enabled {
		if c.CodeFilter.Capacity == 0 {
			return errors.New("code filter capacity must be positive")
		}
		if p := c.CodeFilter.FalsePositiveRate; p <= 0 || p >= 1 {
			return errors.Errorf("code filter false positive rate %v out of (0, 1)", p)
		}
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config holds all configuration for the storefront edge.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server
	// The edge holds the shopper's tokens, so it listens on loopback and
	// answers only the storefront's own origin unless told otherwise.
	HTTPHost       string   `env:"HTTP_HOST" envDefault:"127.0.0.1"`
	HTTPPort       int      `env:"STOREFRONT_HTTP_PORT" envDefault:"3000"`
	CORSOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://127.0.0.1:3000" envSeparator:","`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Backend REST service
	BackendURL        string        `env:"BACKEND_URL" envDefault:"http://localhost:8000"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`
	BackendMaxRetries int           `env:"BACKEND_MAX_RETRIES" envDefault:"2"`

	// Circuit breaker around the backend
	BreakerTimeout      time.Duration `env:"BACKEND_BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerFailureRatio float64       `env:"BACKEND_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	BreakerMinRequests  uint32        `env:"BACKEND_BREAKER_MIN_REQUESTS" envDefault:"5"`

	// Durable key/value storage for the cart and the session
	StorageDriver  string        `env:"STORAGE_DRIVER" envDefault:"file"`
	StoragePath    string        `env:"STORAGE_PATH" envDefault:".storefront/storage.json"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass      string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"storefront:"`
	SlowStorageOp  time.Duration `env:"STORAGE_SLOW_THRESHOLD" envDefault:"100ms"`

	// Session renewal
	RefreshInterval  time.Duration `env:"SESSION_REFRESH_INTERVAL" envDefault:"10m"`
	ExpiryScheduling bool          `env:"SESSION_EXPIRY_SCHEDULING" envDefault:"false"`
	RefreshLead      time.Duration `env:"SESSION_REFRESH_LEAD" envDefault:"1m"`
	MinRefreshDelay  time.Duration `env:"SESSION_MIN_REFRESH_DELAY" envDefault:"5s"`
	RefreshTimeout   time.Duration `env:"SESSION_REFRESH_TIMEOUT" envDefault:"15s"`

	// Checkout
	CheckoutClearsCart bool `env:"CHECKOUT_CLEARS_CART" envDefault:"false"`

	// Edge protection
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`
	CatalogMaxAge  int     `env:"CATALOG_CACHE_MAX_AGE" envDefault:"30"`

	// Debug
	PprofEnabled bool     `env:"PPROF_ENABLED" envDefault:"false"`
	PprofCIDRs   []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(nil)
}

func load(environ map[string]string) (*Config, error) {
	cfg, err := pkgconfig.Load[Config](pkgconfig.WithEnvironment(environ))
	if err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that parse but cannot work together.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.Environment == "production" && slices.Contains(c.CORSOrigins, "*") {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must not contain * in production")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.BackendMaxRetries < 0 {
		return fmt.Errorf("BACKEND_MAX_RETRIES must not be negative")
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("BACKEND_BREAKER_FAILURE_RATIO must be in (0, 1], got %v", c.BreakerFailureRatio)
	}

	switch c.StorageDriver {
	case StorageMemory:
	case StorageFile:
		if c.StoragePath == "" {
			return fmt.Errorf("STORAGE_PATH is required for the file driver")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis driver")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of memory, file, redis, got %q", c.StorageDriver)
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("SESSION_REFRESH_INTERVAL must be positive")
	}
	if c.MinRefreshDelay <= 0 || c.MinRefreshDelay > c.RefreshInterval {
		return fmt.Errorf("SESSION_MIN_REFRESH_DELAY must be in (0, SESSION_REFRESH_INTERVAL]")
	}
	if c.RefreshLead < 0 {
		return fmt.Errorf("SESSION_REFRESH_LEAD must not be negative")
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("SESSION_REFRESH_TIMEOUT must be positive")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	return nil
}

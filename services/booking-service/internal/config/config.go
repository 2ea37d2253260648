// Package config holds the booking service's environment settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "github.com/glamdesk/salonbook/libs/config"
	"github.com/glamdesk/salonbook/libs/httpx"
	otelx "github.com/glamdesk/salonbook/libs/otel"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"booking-service"`
	Port        string `env:"PORT" envDefault:"8083"`
	GRPCPort    string `env:"GRPC_PORT" envDefault:"9083"`

	DatabaseURL  string        `env:"DATABASE_URL,required"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`

	KafkaBrokers          string `env:"KAFKA_BROKERS"`
	KafkaGroupID          string `env:"KAFKA_GROUP_ID" envDefault:"booking-service"`
	KafkaBlockedTimeTopic string `env:"KAFKA_BLOCKED_TIME_TOPIC" envDefault:"salon.blocked_time.changed.v1"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RateLimitPerMinute int  `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	RateLimitFailOpen  bool `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed
	// when keying the rate limit. Empty means clients connect directly.
	TrustedProxies []string `env:"RATE_LIMIT_TRUSTED_PROXIES" envSeparator:","`

	RuleCacheSize int           `env:"RULE_CACHE_SIZE" envDefault:"1024"`
	RuleCacheTTL  time.Duration `env:"RULE_CACHE_TTL" envDefault:"5m"`

	DefaultGranularityMinutes int `env:"DEFAULT_GRANULARITY_MINUTES" envDefault:"30"`

	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	BodyLimitBytes     int64         `env:"BODY_LIMIT_BYTES" envDefault:"65536"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowedHeaders []string      `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Content-Type,Idempotency-Key,X-Request-Id"`

	OTel otelx.Config
}

// Load reads the environment (and an optional .env file) into a Config.
func Load(files ...string) (Config, error) {
	var cfg Config
	if err := libconfig.Load(&cfg, files...); err != nil {
		return Config{}, err
	}
	cfg.OTel.ServiceName = cfg.ServiceName
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if err := libconfig.ValidPort(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT %w", err))
	}
	if err := libconfig.ValidPort(c.GRPCPort); err != nil {
		errs = append(errs, fmt.Errorf("GRPC_PORT %w", err))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be >= 1"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be > 0"))
	}
	if c.RequestTimeout < c.StoreTimeout {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be >= STORE_TIMEOUT"))
	}
	if c.BodyLimitBytes < 1 {
		errs = append(errs, errors.New("BODY_LIMIT_BYTES must be >= 1"))
	}
	if c.RateLimitPerMinute < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be >= 1"))
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_TRUSTED_PROXIES: %w", err))
	}
	if c.RuleCacheSize < 1 {
		errs = append(errs, errors.New("RULE_CACHE_SIZE must be >= 1"))
	}
	if c.RuleCacheTTL <= 0 {
		errs = append(errs, errors.New("RULE_CACHE_TTL must be > 0"))
	}
	if g := c.DefaultGranularityMinutes; g < 1 || g > 24*60 {
		errs = append(errs, errors.New("DEFAULT_GRANULARITY_MINUTES must be within 1..1440"))
	}
	if err := c.OTel.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

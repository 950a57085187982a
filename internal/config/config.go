// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParsingConfig is returned when environment variables cannot be parsed into Config.
var ErrParsingConfig = errors.New("config: failed to parse environment")

// ErrInsecureAuth is returned when unsigned dev tokens would be accepted outside development.
var ErrInsecureAuth = errors.New("config: AUTH_MODE=dev is only allowed with APP_ENV=development")

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database Database
	Redis    Redis
	Auth     Auth
	Webhook  Webhook
	Rate     Rate
}

// Database is optional; the in-memory store is used when URL is empty.
type Database struct {
	URL      string `env:"DATABASE_URL"`
	Migrate  bool   `env:"DB_MIGRATE" envDefault:"true"`
	MaxConns int32  `env:"PG_MAX_CONNS" envDefault:"10"`
}

// Redis is optional; in-memory brokers and rate limit stores are used when URL is empty.
type Redis struct {
	URL string `env:"REDIS_URL"`
}

type Auth struct {
	Mode            string `env:"AUTH_MODE" envDefault:"dev"`
	HMACSecret      string `env:"AUTH_HMAC_SECRET"`
	JWKSURL         string `env:"AUTH_JWKS_URL"`
	CredentialClaim string `env:"AUTH_CREDENTIAL_CLAIM" envDefault:"sub"`
	ScopeClaim      string `env:"AUTH_SCOPE_CLAIM" envDefault:"scope"`
}

type Webhook struct {
	MaxAttempts      int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
	Timeout          time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
	Workers          int64         `env:"WEBHOOK_WORKERS" envDefault:"32"`
	BreakerWindow    int           `env:"WEBHOOK_BREAKER_WINDOW" envDefault:"10"`
	BlockPrivateDial bool          `env:"WEBHOOK_BLOCK_PRIVATE_DIAL" envDefault:"false"`
}

type Rate struct {
	RPS   float64       `env:"RATE_RPS" envDefault:"5"`
	Burst int           `env:"RATE_BURST" envDefault:"20"`
	TTL   time.Duration `env:"RATE_TTL" envDefault:"10m"`
}

// Load reads an optional .env file and parses the process environment.
func Load() (Config, error) {
	// the .env file is optional
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses the given key/value pairs only. Used by tests.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	// an empty mode falls back to dev in the verifier
	if mode := strings.ToLower(strings.TrimSpace(cfg.Auth.Mode)); (mode == "" || mode == "dev") && !cfg.IsDevelopment() {
		return Config{}, ErrInsecureAuth
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 1
	}
	if cfg.Webhook.Workers <= 0 {
		cfg.Webhook.Workers = 1
	}
	return cfg, nil
}

// IsDevelopment enables the localhost exception of the URL validator and console logging.
func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func (c Config) Addr() string {
	return ":" + c.Port
}

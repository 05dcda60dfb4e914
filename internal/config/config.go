// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSecretLength is the shortest accepted JWT signing secret, in bytes.
const MinSecretLength = 32

// Config holds everything cmd/api and cmd/migrate need.
type Config struct {
	JWTSecret string `env:"WARDEN_JWT_SECRET"`
	PGDSN     string `env:"WARDEN_PG_DSN"`
	JWTIssuer string `env:"WARDEN_JWT_ISSUER" envDefault:"warden"`

	AccessTTL  time.Duration `env:"WARDEN_ACCESS_TTL"  envDefault:"24h"`
	RefreshTTL time.Duration `env:"WARDEN_REFRESH_TTL" envDefault:"168h"`

	HTTPAddr     string   `env:"WARDEN_HTTP_ADDR"     envDefault:":8080"`
	CORSOrigins  []string `env:"WARDEN_CORS_ORIGINS"  envSeparator:","`
	MaxBodyBytes int64    `env:"WARDEN_MAX_BODY_BYTES" envDefault:"1048576"`
	RateBurst    int      `env:"WARDEN_RATE_BURST"    envDefault:"40"`
	RatePerSec   float64  `env:"WARDEN_RATE_PER_SEC"  envDefault:"20"`

	RedisURL        string        `env:"WARDEN_REDIS_URL"`
	SessionCacheTTL time.Duration `env:"WARDEN_SESSION_CACHE_TTL" envDefault:"5m"`

	SweepInterval  time.Duration `env:"WARDEN_SWEEP_INTERVAL"  envDefault:"5m"`
	AuditRetention time.Duration `env:"WARDEN_AUDIT_RETENTION" envDefault:"0s"`

	TraceExporter string `env:"WARDEN_TRACE_EXPORTER" envDefault:"none"`
	DefaultRole   string `env:"WARDEN_DEFAULT_ROLE"   envDefault:"USER"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.TraceExporter))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every setting that would prevent a safe start.
func (c Config) Validate() error {
	var errs []error
	switch {
	case c.JWTSecret == "":
		errs = append(errs, errors.New("WARDEN_JWT_SECRET is required"))
	case len(c.JWTSecret) < MinSecretLength:
		errs = append(errs, fmt.Errorf("WARDEN_JWT_SECRET must be at least %d bytes", MinSecretLength))
	}
	if strings.TrimSpace(c.PGDSN) == "" {
		errs = append(errs, errors.New("WARDEN_PG_DSN is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("WARDEN_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("WARDEN_REFRESH_TTL must be longer than WARDEN_ACCESS_TTL"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("WARDEN_SWEEP_INTERVAL must be positive"))
	}
	if c.AuditRetention < 0 {
		errs = append(errs, errors.New("WARDEN_AUDIT_RETENTION must not be negative"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("WARDEN_MAX_BODY_BYTES must be positive"))
	}
	if c.RedisURL != "" && c.SessionCacheTTL <= 0 {
		errs = append(errs, errors.New("WARDEN_SESSION_CACHE_TTL must be positive when redis is enabled"))
	}
	switch c.TraceExporter {
	case "", "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("unknown WARDEN_TRACE_EXPORTER %q", c.TraceExporter))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RateLimited reports whether per-IP rate limiting is on.
func (c Config) RateLimited() bool { return c.RatePerSec > 0 }

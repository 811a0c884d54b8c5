// Package config loads the service configuration from the environment.
//
// Configuration is read once at startup into an immutable Config value.
// Required provider credentials are checked up front so a misconfigured
// deployment fails at boot instead of on the first sign-in.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers accepted in DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/itmo-auth.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	Provider Provider

	// SessionSecret signs the locally issued session tokens.
	SessionSecret string `env:"SESSION_SECRET,required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ServiceName  string `env:"SERVICE_NAME" envDefault:"itmo-auth"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Provider holds the identity provider client credentials and endpoints.
type Provider struct {
	ClientID     string        `env:"CLIENT_ID,required"`
	ClientSecret string        `env:"CLIENT_SECRET,required"`
	GrantType    string        `env:"GRANT_TYPE" envDefault:"authorization_code"`
	RedirectURI  string        `env:"REDIRECT_URI,required"`
	BaseURL      string        `env:"ITMO_BASE_URL" envDefault:"https://login.itmo.ru"`
	Realm        string        `env:"ITMO_REALM" envDefault:"itmo"`
	Timeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
}

// TokenURL is the realm's OpenID Connect token endpoint.
func (p Provider) TokenURL() string {
	return p.realmURL() + "/protocol/openid-connect/token"
}

// UserInfoURL is the realm's OpenID Connect userinfo endpoint.
func (p Provider) UserInfoURL() string {
	return p.realmURL() + "/protocol/openid-connect/userinfo"
}

// Host is the host[:port] of BaseURL, sent verbatim as the Host header.
func (p Provider) Host() string {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (p Provider) realmURL() string {
	return strings.TrimRight(p.BaseURL, "/") + "/auth/realms/" + p.Realm
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from the environment described by opts and
// validates it. Tests pass opts.Environment to avoid touching the process env.
func Parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules the struct tags cannot express.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("config: DB_PATH must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}

	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: ITMO_BASE_URL %q is not an absolute URL", c.Provider.BaseURL)
	}
	if c.Provider.Realm == "" {
		return errors.New("config: ITMO_REALM must not be empty")
	}
	if c.Provider.Timeout <= 0 {
		return errors.New("config: PROVIDER_TIMEOUT must be positive")
	}

	if len(c.SessionSecret) < 16 {
		return errors.New("config: SESSION_SECRET must be at least 16 characters")
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

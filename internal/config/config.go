// Package config loads inspectdesk settings from an optional YAML file
// overlaid by INSPECTDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "INSPECTDESK_"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`
	// TrustProxy keys client addresses on X-Forwarded-For. Enable only when
	// a proxy in front of the service overwrites that header.
	TrustProxy bool `yaml:"trust_proxy"`

	Postgres PostgresConfig `yaml:"postgres"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Login    LoginConfig    `yaml:"login"`

	// Bootstrap provisions a super admin when running against the in-memory store.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

type SessionConfig struct {
	CookieName   string        `yaml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	RefreshLead  time.Duration `yaml:"refresh_lead"`
}

type LoginConfig struct {
	RatePerSecond int `yaml:"rate_per_second"`
	Burst         int `yaml:"burst"`
}

type BootstrapConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:     "inspectdesk",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 14 * 24 * time.Hour,
		},
		Session: SessionConfig{
			CookieName:  "inspectdesk_sid",
			IdleTimeout: 12 * time.Hour,
			RefreshLead: time.Minute,
		},
		Login: LoginConfig{
			RatePerSecond: 1,
			Burst:         5,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, envPrefix, name, err)
		}
		*dst = d
		return nil
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, envPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("PG_DSN", &c.Postgres.DSN)
	str("AUTH_SECRET", &c.Auth.Secret)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	str("COOKIE_NAME", &c.Session.CookieName)
	str("BOOTSTRAP_EMAIL", &c.Bootstrap.Email)
	str("BOOTSTRAP_PASSWORD", &c.Bootstrap.Password)
	str("BOOTSTRAP_NAME", &c.Bootstrap.Name)

	for name, dst := range map[string]*bool{
		"COOKIE_SECURE": &c.Session.CookieSecure,
		"TRUST_PROXY":   &c.TrustProxy,
	} {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, envPrefix, name, err)
		}
		*dst = b
	}
	for name, dst := range map[string]*time.Duration{
		"ACCESS_TTL":           &c.Auth.AccessTTL,
		"REFRESH_TTL":          &c.Auth.RefreshTTL,
		"SESSION_IDLE_TIMEOUT": &c.Session.IdleTimeout,
		"REFRESH_LEAD":         &c.Session.RefreshLead,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*int{
		"LOGIN_RATE":  &c.Login.RatePerSecond,
		"LOGIN_BURST": &c.Login.Burst,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks invariants the rest of the service relies on.
func (c Config) Validate() error {
	if len(c.Auth.Secret) < 16 {
		return fmt.Errorf("%w: auth secret must be at least 16 bytes", ErrInvalid)
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token ttls must be positive", ErrInvalid)
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return fmt.Errorf("%w: refresh ttl shorter than access ttl", ErrInvalid)
	}
	if c.Session.RefreshLead < 0 || c.Session.RefreshLead >= c.Auth.AccessTTL {
		return fmt.Errorf("%w: refresh lead must be within the access ttl", ErrInvalid)
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("%w: cookie name is required", ErrInvalid)
	}
	if c.Login.RatePerSecond <= 0 || c.Login.Burst <= 0 {
		return fmt.Errorf("%w: login rate limit must be positive", ErrInvalid)
	}
	if (c.Bootstrap.Email == "") != (c.Bootstrap.Password == "") {
		return fmt.Errorf("%w: bootstrap email and password go together", ErrInvalid)
	}
	return nil
}

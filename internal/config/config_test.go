package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123"

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inspectdesk.yaml")
	body := `
http_addr: ":9000"
auth:
  secret: "` + testSecret + `"
  access_ttl: 10m
session:
  cookie_name: sid
  refresh_lead: 30s
login:
  burst: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INSPECTDESK_HTTP_ADDR", ":9100")
	t.Setenv("INSPECTDESK_REFRESH_TTL", "48h")
	t.Setenv("INSPECTDESK_COOKIE_SECURE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("env should override file, got %q", cfg.HTTPAddr)
	}
	if cfg.Auth.AccessTTL != 10*time.Minute || cfg.Auth.RefreshTTL != 48*time.Hour {
		t.Fatalf("unexpected ttls %v / %v", cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	}
	if cfg.Session.CookieName != "sid" || !cfg.Session.CookieSecure {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Login.Burst != 3 || cfg.Login.RatePerSecond != 1 {
		t.Fatalf("defaults should survive partial file, got %+v", cfg.Login)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected grpc addr %q", cfg.GRPCAddr)
	}
	if cfg.TrustProxy {
		t.Fatalf("forwarded headers must not be trusted by default")
	}
}

func TestTrustProxyFromEnv(t *testing.T) {
	t.Setenv("INSPECTDESK_AUTH_SECRET", testSecret)
	t.Setenv("INSPECTDESK_TRUST_PROXY", "1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.TrustProxy {
		t.Fatalf("expected trust_proxy enabled")
	}

	t.Setenv("INSPECTDESK_TRUST_PROXY", "sometimes")
	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("INSPECTDESK_AUTH_SECRET", testSecret)
	t.Setenv("INSPECTDESK_ACCESS_TTL", "soon")
	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Auth.Secret = testSecret
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults with secret should validate: %v", err)
	}

	cases := map[string]func(*Config){
		"short secret":     func(c *Config) { c.Auth.Secret = "short" },
		"refresh < access": func(c *Config) { c.Auth.RefreshTTL = time.Minute },
		"lead beyond ttl":  func(c *Config) { c.Session.RefreshLead = time.Hour },
		"empty cookie":     func(c *Config) { c.Session.CookieName = " " },
		"zero burst":       func(c *Config) { c.Login.Burst = 0 },
		"half bootstrap":   func(c *Config) { c.Bootstrap.Email = "root@example.com" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig
	Target    TargetConfig
	Upstream  UpstreamConfig
	Session   SessionConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Intercept InterceptConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TargetConfig identifies the proxied site. One deployment serves one origin.
type TargetConfig struct {
	Origin string `envconfig:"TARGET_ORIGIN" default:"https://example.com"`
}

// UpstreamConfig holds the SOCKS5 provider settings.
//
// Username is a template; the marker {session} is replaced with the current
// credential id, which ties all requests under one credential to one exit IP
// ("sticky session"). StickyTTL documents the provider-side pin window; it is
// independent of the gateway's own session TTL. Rotation mints a new
// credential id and therefore a new exit IP regardless of either window.
type UpstreamConfig struct {
	ProxyAddr    string        `envconfig:"UPSTREAM_PROXY_ADDR" default:"proxy.example.net:1080"`
	Username     string        `envconfig:"UPSTREAM_USERNAME" default:"user-session-{session}"`
	Password     string        `envconfig:"UPSTREAM_PASSWORD" default:""`
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s"`
	MaxRetries   int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"3"`
	RetryBackoff time.Duration `envconfig:"UPSTREAM_RETRY_BACKOFF" default:"1500ms"`
	StickyTTL    time.Duration `envconfig:"UPSTREAM_STICKY_TTL" default:"10m"`
}

// SessionConfig holds visitor session store configuration.
type SessionConfig struct {
	TTL        time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	CookieName string        `envconfig:"SESSION_COOKIE" default:"mg_session"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// InterceptConfig holds client-side interception settings.
type InterceptConfig struct {
	// DomainListFile optionally overrides the built-in ad/tracking domain list.
	DomainListFile string `envconfig:"DOMAIN_LIST_FILE" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Target: TargetConfig{
			Origin: "https://example.com",
		},
		Upstream: UpstreamConfig{
			ProxyAddr:    "proxy.example.net:1080",
			Username:     "user-session-{session}",
			FetchTimeout: 60 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 1500 * time.Millisecond,
			StickyTTL:    10 * time.Minute,
		},
		Session: SessionConfig{
			TTL:        30 * time.Minute,
			CookieName: "mg_session",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

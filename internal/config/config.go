// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Client configures the donorsync client.
type Client struct {
	APIURL               string        `env:"DONORLINK_API_URL"                envDefault:"http://localhost:8080"`
	SessionDSN           string        `env:"DONORLINK_SESSION_DSN"            envDefault:"sqlite://donorlink-session.db"`
	HTTPTimeout          time.Duration `env:"DONORLINK_HTTP_TIMEOUT"           envDefault:"15s"`
	PollInterval         time.Duration `env:"DONORLINK_POLL_INTERVAL"          envDefault:"30s"`
	ReconnectBase        time.Duration `env:"DONORLINK_RECONNECT_BASE"         envDefault:"1s"`
	MaxReconnectAttempts int           `env:"DONORLINK_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	PendingTTL           time.Duration `env:"DONORLINK_PENDING_TTL"            envDefault:"15m"`
	ResendInterval       time.Duration `env:"DONORLINK_OTP_RESEND_INTERVAL"    envDefault:"30s"`
}

// LoadClient parses and validates client settings.
func LoadClient() (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return Client{}, errors.New("DONORLINK_API_URL is required")
	}
	if cfg.PollInterval < time.Second {
		return Client{}, fmt.Errorf("poll interval %s is below 1s", cfg.PollInterval)
	}
	return cfg, nil
}

// Server configures the reference backend.
type Server struct {
	Addr           string        `env:"DONORLINK_ADDR"             envDefault:":8080"`
	TokenTTL       time.Duration `env:"DONORLINK_TOKEN_TTL"        envDefault:"24h"`
	OTPTTL         time.Duration `env:"DONORLINK_OTP_TTL"          envDefault:"10m"`
	AdminCode      string        `env:"DONORLINK_ADMIN_SECURITY_CODE"`
	ResendAPIKey   string        `env:"DONORLINK_RESEND_API_KEY"`
	MailFrom       string        `env:"DONORLINK_MAIL_FROM"        envDefault:"donorlink <no-reply@donorlink.org>"`
	RateBurst      int           `env:"DONORLINK_RATE_BURST"       envDefault:"20"`
	RatePerSecond  int           `env:"DONORLINK_RATE_PER_SECOND"  envDefault:"10"`
	MaxBodyBytes   int64         `env:"DONORLINK_MAX_BODY_BYTES"   envDefault:"1048576"`
	AllowedOrigins []string      `env:"DONORLINK_ALLOWED_ORIGINS"  envSeparator:","`
}

// LoadServer parses and validates backend settings.
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if cfg.TokenTTL <= 0 || cfg.OTPTTL <= 0 {
		return Server{}, errors.New("token and OTP TTLs must be positive")
	}
	if cfg.RateBurst <= 0 || cfg.RatePerSecond <= 0 {
		return Server{}, errors.New("rate limit settings must be positive")
	}
	return cfg, nil
}

// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all env configuration vars for the service.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	Port        string `env:"PORT" envDefault:"8000"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	// LogLevel accepts debug, info, warn, error (any case).
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`

	// Google OAuth client. All three are required to serve the OAuth routes.
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURI        string        `env:"REDIRECT_URI" envDefault:"https://api.franklink.ai/oauth/google/callback"`
	Scopes             []string      `env:"OAUTH_SCOPES" envSeparator:"," envDefault:"openid,email,profile"`
	GoogleAuthURL      string        `env:"GOOGLE_AUTH_URL"`
	GoogleTokenURL     string        `env:"GOOGLE_TOKEN_URL"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// VerifyIDToken switches identity decoding from the untrusted local decode to
	// OIDC signature verification against OIDCIssuer. Requires discovery at startup.
	VerifyIDToken bool   `env:"VERIFY_ID_TOKEN" envDefault:"false"`
	OIDCIssuer    string `env:"OIDC_ISSUER" envDefault:"https://accounts.google.com"`

	// Flow policy. Empty AllowedEmailDomains disables domain restriction.
	AllowedEmailDomains   []string      `env:"ALLOWED_EMAIL_DOMAINS" envSeparator:","`
	StrictStateValidation bool          `env:"STRICT_STATE_VALIDATION" envDefault:"false"`
	FlowStateTTL          time.Duration `env:"FLOW_STATE_TTL" envDefault:"10m"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://franklink.ai,https://www.franklink.ai,http://localhost:8000,http://localhost:3000"`

	// Account provisioning. Empty secret disables POST /account/provision.
	ProvisionSharedSecret string `env:"PROVISION_SHARED_SECRET"`
	PhoneEmailDomain      string `env:"PHONE_EMAIL_DOMAIN" envDefault:"users.franklink.ai"`

	// Rate limit policy for starting flows, per user id.
	// Defaults: max=20, window=10m, lockout=10m.
	RateStartMax     int           `env:"RATE_START_MAX" envDefault:"20"`
	RateStartWindow  time.Duration `env:"RATE_START_WINDOW" envDefault:"10m"`
	RateStartLockout time.Duration `env:"RATE_START_LOCKOUT" envDefault:"10m"`

	// Rate limit policy for provisioning, per identity.
	// Defaults: max=5, window=15m, lockout=30m.
	RateProvisionMax     int           `env:"RATE_PROVISION_MAX" envDefault:"5"`
	RateProvisionWindow  time.Duration `env:"RATE_PROVISION_WINDOW" envDefault:"15m"`
	RateProvisionLockout time.Duration `env:"RATE_PROVISION_LOCKOUT" envDefault:"30m"`

	// Provisioning attempts per client address, any identity. Shares the window and lockout above.
	RateProvisionIPMax int `env:"RATE_PROVISION_IP_MAX" envDefault:"20"`
}

// ClientSecretRef names where the client secret comes from. Recorded on credentials
// so the secret itself is never copied into user records.
const ClientSecretRef = "env:GOOGLE_CLIENT_SECRET"

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL) are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.Scopes = trimList(cfg.Scopes)
	cfg.AllowedEmailDomains = trimList(cfg.AllowedEmailDomains)
	cfg.CORSAllowedOrigins = trimList(cfg.CORSAllowedOrigins)

	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("OAUTH_SCOPES must name at least one scope")
	}

	// Codes and tokens travel through the redirect; refuse plain HTTP outside local dev.
	if cfg.RedirectURI != "" && !strings.HasPrefix(cfg.RedirectURI, "https://") &&
		!strings.HasPrefix(cfg.RedirectURI, "http://localhost") {
		return nil, fmt.Errorf("REDIRECT_URI must use https:// (or http://localhost)")
	}

	// Fall back to defaults so a misconfigured env doesn't silently disable rate limiting.
	cfg.FlowStateTTL = positiveDuration("FLOW_STATE_TTL", cfg.FlowStateTTL, 10*time.Minute)
	cfg.ProviderTimeout = positiveDuration("PROVIDER_TIMEOUT", cfg.ProviderTimeout, 10*time.Second)
	cfg.RateStartMax = positiveInt("RATE_START_MAX", cfg.RateStartMax, 20)
	cfg.RateStartWindow = positiveDuration("RATE_START_WINDOW", cfg.RateStartWindow, 10*time.Minute)
	cfg.RateStartLockout = positiveDuration("RATE_START_LOCKOUT", cfg.RateStartLockout, 10*time.Minute)
	cfg.RateProvisionMax = positiveInt("RATE_PROVISION_MAX", cfg.RateProvisionMax, 5)
	cfg.RateProvisionWindow = positiveDuration("RATE_PROVISION_WINDOW", cfg.RateProvisionWindow, 15*time.Minute)
	cfg.RateProvisionLockout = positiveDuration("RATE_PROVISION_LOCKOUT", cfg.RateProvisionLockout, 30*time.Minute)
	cfg.RateProvisionIPMax = positiveInt("RATE_PROVISION_IP_MAX", cfg.RateProvisionIPMax, 20)

	return cfg, nil
}

// OAuthConfigured reports whether the Google client is fully configured.
func (c *Config) OAuthConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.RedirectURI != ""
}

// trimList drops blank entries from a comma-split list.
func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func positiveInt(key string, v, def int) int {
	if v <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}

func positiveDuration(key string, v, def time.Duration) time.Duration {
	if v <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}

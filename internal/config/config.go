// Package config loads the server configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spendly.app/internal/auth"
)

// Config holds process settings. Auth carries the validated session settings.
type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	GRPCAddr    string `mapstructure:"GRPC_ADDR"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	Env         string `mapstructure:"APP_ENV"`
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool `mapstructure:"AUTO_MIGRATE"`

	AccessSecret     string `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshSecret    string `mapstructure:"REFRESH_TOKEN_SECRET"`
	AccessTTLRaw     string `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTTLRaw    string `mapstructure:"REFRESH_TOKEN_TTL"`
	CookieSecure     bool   `mapstructure:"COOKIE_SECURE"`
	CookieSameSite   string `mapstructure:"COOKIE_SAMESITE"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	BcryptCost       int    `mapstructure:"BCRYPT_COST"`
	RevokeAllOnReuse bool   `mapstructure:"REVOKE_ALL_ON_REUSE"`

	SweepIntervalRaw string  `mapstructure:"SWEEP_INTERVAL"`
	LoginRatePerSec  float64 `mapstructure:"LOGIN_RATE_PER_SEC"`
	LoginRateBurst   int     `mapstructure:"LOGIN_RATE_BURST"`

	// TrustedProxiesRaw lists the CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxiesRaw string `mapstructure:"TRUSTED_PROXIES"`

	SweepInterval  time.Duration  `mapstructure:"-"`
	TrustedProxies []netip.Prefix `mapstructure:"-"`
	Auth           auth.Config    `mapstructure:"-"`
}

// Production reports whether APP_ENV names a production deployment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env. Any invalid security setting is an error.
func Load() (*Config, error) {
	return load(".env")
}

func load(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing file is fine
	}
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_SAMESITE", "lax")
	v.SetDefault("JWT_ISSUER", auth.DefaultIssuer)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REVOKE_ALL_ON_REUSE", false)
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("LOGIN_RATE_PER_SEC", 1.0)
	v.SetDefault("LOGIN_RATE_BURST", 5)
	v.SetDefault("TRUSTED_PROXIES", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	accessTTL, err := parseDuration("ACCESS_TOKEN_TTL", c.AccessTTLRaw)
	if err != nil {
		return err
	}
	refreshTTL, err := parseDuration("REFRESH_TOKEN_TTL", c.RefreshTTLRaw)
	if err != nil {
		return err
	}
	c.SweepInterval, err = parseDuration("SWEEP_INTERVAL", c.SweepIntervalRaw)
	if err != nil {
		return err
	}
	if c.LoginRatePerSec <= 0 || c.LoginRateBurst <= 0 {
		return errors.New("config: LOGIN_RATE_PER_SEC and LOGIN_RATE_BURST must be positive")
	}
	sameSite, err := auth.ParseSameSite(c.CookieSameSite)
	if err != nil {
		return fmt.Errorf("config: COOKIE_SAMESITE: %w", err)
	}
	if c.Production() && !c.CookieSecure {
		return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}
	if c.TrustedProxies, err = parseProxies(c.TrustedProxiesRaw); err != nil {
		return err
	}

	c.Auth = auth.Config{
		AccessTTL:        accessTTL,
		RefreshTTL:       refreshTTL,
		AccessSecret:     c.AccessSecret,
		RefreshSecret:    c.RefreshSecret,
		CookieSecure:     c.CookieSecure,
		CookieSameSite:   sameSite,
		Issuer:           c.JWTIssuer,
		RevokeAllOnReuse: c.RevokeAllOnReuse,
		BcryptCost:       c.BcryptCost,
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

// parseProxies reads a comma separated list of CIDRs or single addresses.
func parseProxies(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

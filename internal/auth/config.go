package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "spendly"

	minSecretLen = 32
)

// ErrConfig wraps every configuration validation failure.
var ErrConfig = errors.New("auth: invalid config")

// Config enumerates the security-sensitive settings of the session core.
type Config struct {
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	AccessSecret   string
	RefreshSecret  string
	CookieSecure   bool
	CookieSameSite http.SameSite
	Issuer         string
	// RevokeAllOnReuse revokes every refresh record of a subject when a
	// rotated refresh token is presented again.
	RevokeAllOnReuse bool
	BcryptCost       int
}

// Validate fills zero TTLs, issuer and cost with defaults and rejects unsafe values.
func (c *Config) Validate() error {
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = DefaultIssuer
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = http.SameSiteLaxMode
	}

	switch {
	case c.AccessTTL < 0:
		return fmt.Errorf("%w: access ttl must be positive", ErrConfig)
	case c.RefreshTTL < 0:
		return fmt.Errorf("%w: refresh ttl must be positive", ErrConfig)
	case c.RefreshTTL <= c.AccessTTL:
		return fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrConfig)
	case len(c.AccessSecret) < minSecretLen:
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, minSecretLen)
	case len(c.RefreshSecret) < minSecretLen:
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, minSecretLen)
	case c.AccessSecret == c.RefreshSecret:
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	case c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost:
		return fmt.Errorf("%w: bcrypt cost must be between %d and %d", ErrConfig, bcrypt.MinCost, bcrypt.MaxCost)
	case c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure:
		return fmt.Errorf("%w: SameSite=None requires secure cookies", ErrConfig)
	}
	return nil
}

// ParseSameSite maps "lax", "strict", "none" (case-insensitive) to http.SameSite.
func ParseSameSite(raw string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unknown SameSite policy %q", ErrConfig, raw)
	}
}

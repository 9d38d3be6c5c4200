package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates access credentials from refresh credentials.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Allowed clock skew when checking issued-at.
const issuedAtSkew = 5 * time.Second

// Claims represents the JWT claims carried by both token types.
type Claims struct {
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens of one type with one secret.
type Codec struct {
	secret []byte
	issuer string
	typ    TokenType
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec builds a codec for typ tokens signed with secret using HS256.
func NewCodec(secret string, typ TokenType, issuer string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: %s secret must be at least %d bytes", ErrConfig, typ, minSecretLen)
	}
	if typ != TokenAccess && typ != TokenRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrConfig, typ)
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		typ:    typ,
		now:    time.Now,
	}
	if c.issuer == "" {
		c.issuer = DefaultIssuer
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign returns a token for subjectID that expires ttl from now.
func (c *Codec) Sign(subjectID string, ttl time.Duration) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}

	// NumericDate has second precision; truncating keeps exp exactly iat+ttl.
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		TokenType: c.typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, type and expiry.
// On ErrTokenExpired the signature was valid and the returned claims are populated.
func (c *Codec) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenMalformed
		}
		return c.secret, nil
	}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, ErrTokenMalformed
	}
	if err := c.validateClaims(&claims); err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}
	return claims, nil
}

func (c *Codec) validateClaims(claims *Claims) error {
	if claims.TokenType != c.typ {
		return fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if claims.Issuer != c.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	now := c.now().UTC()
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return errors.New("token issued in the future")
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}

// Hash returns the keyed digest stored in place of a plaintext token.
func (c *Codec) Hash(token string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}


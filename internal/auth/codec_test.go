package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCodecRoundTripAndExpiry(t *testing.T) {
	clock := newFakeClock()
	codec, err := NewCodec(testAccessSecret, TokenAccess, "", WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	ttl := 15 * time.Minute
	token, exp, err := codec.Sign("user-42", ttl)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !exp.Equal(clock.Now().Add(ttl)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" || claims.Issuer != DefaultIssuer || claims.TokenType != TokenAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	clock.Advance(ttl - time.Second)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("expected token valid just before expiry, got %v", err)
	}

	clock.Advance(time.Second)
	claims, err = codec.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("expired claims should still carry subject, got %q", claims.Subject)
	}
}

func TestCodecRejectsTamperingAndCrossUse(t *testing.T) {
	access, err := NewCodec(testAccessSecret, TokenAccess, "")
	if err != nil {
		t.Fatalf("NewCodec access: %v", err)
	}
	refresh, err := NewCodec(testRefreshSecret, TokenRefresh, "")
	if err != nil {
		t.Fatalf("NewCodec refresh: %v", err)
	}
	sameSecretRefresh, err := NewCodec(testAccessSecret, TokenRefresh, "")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	token, _, err := access.Sign("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]struct {
		codec *Codec
		token string
	}{
		"empty":              {access, ""},
		"garbage":            {access, "not.a.jwt"},
		"tampered payload":   {access, tampered},
		"wrong secret":       {refresh, token},
		"wrong token type":   {sameSecretRefresh, token},
		"truncated":          {access, token[:len(token)-4]},
		"foreign issuer key": {mustCodec(t, testAccessSecret, "other"), token},
	}
	for name, tc := range cases {
		if _, err := tc.codec.Verify(tc.token); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("%s: expected ErrTokenMalformed, got %v", name, err)
		}
	}
}

func TestCodecTokensAreUnique(t *testing.T) {
	clock := newFakeClock()
	codec := mustCodec(t, testRefreshSecret, "")
	codec.now = clock.Now
	a, _, _ := codec.Sign("user-1", time.Hour)
	b, _, _ := codec.Sign("user-1", time.Hour)
	if a == b {
		t.Fatal("tokens minted in the same second must differ")
	}
	if codec.Hash(a) == codec.Hash(b) {
		t.Fatal("hashes must differ")
	}
	if len(codec.Hash(a)) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", codec.Hash(a))
	}
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewCodec("short", TokenAccess, ""); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func mustCodec(t *testing.T, secret, issuer string) *Codec {
	t.Helper()
	typ := TokenAccess
	if secret == testRefreshSecret {
		typ = TokenRefresh
	}
	c, err := NewCodec(secret, typ, issuer)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

package httpapi

import (
	"context"
	"net/http"
	"strings"

	"spendly.app/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// RequireSession rejects requests without a valid access credential.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := a.authenticate(r)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authenticate(r *http.Request) (context.Context, error) {
	id, err := a.svc.Authenticate(r.Context(), accessToken(r))
	if err != nil {
		return nil, err
	}
	return auth.ContextWithIdentity(r.Context(), id), nil
}

// accessToken prefers the access cookie and falls back to a Bearer header.
func accessToken(r *http.Request) string {
	if v := cookieValue(r, AccessCookie); v != "" {
		return v
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

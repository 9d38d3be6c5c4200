package httpapi

import (
	"net/http"
	"time"

	"spendly.app/internal/auth"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	refreshCookiePath = "/auth"
)

func (a *API) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   a.authCfg.CookieSecure,
		SameSite: a.authCfg.CookieSameSite,
	}
}

// setSessionCookies writes the access cookie and the refresh cookie. A session
// without a refresh token expires any refresh cookie the client still holds.
func (a *API) setSessionCookies(w http.ResponseWriter, sess auth.Session) {
	http.SetCookie(w, a.cookie(AccessCookie, sess.AccessToken, "/", a.authCfg.AccessTTL))
	if sess.RefreshToken == "" {
		http.SetCookie(w, a.expired(RefreshCookie, refreshCookiePath))
		return
	}
	http.SetCookie(w, a.cookie(RefreshCookie, sess.RefreshToken, refreshCookiePath, a.authCfg.RefreshTTL))
}

func (a *API) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.expired(AccessCookie, "/"))
	http.SetCookie(w, a.expired(RefreshCookie, refreshCookiePath))
}

func (a *API) expired(name, path string) *http.Cookie {
	c := a.cookie(name, "", path, 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

package httpapi

import (
	"net/http"
	"time"

	"spendly.app/internal/audit"
	"spendly.app/internal/auth"
	"spendly.app/internal/obs"
)

const refreshProofHeader = "X-Refresh-Token"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User        auth.PublicProfile `json:"user"`
	AccessToken string             `json:"accessToken"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

type refreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type meResponse struct {
	User auth.PublicProfile `json:"user"`
}

func device(r *http.Request) auth.DeviceInfo {
	return auth.DeviceInfo{UserAgent: r.UserAgent(), IPAddress: clientIP(r)}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	sess, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, device(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess)
	writeJSON(w, http.StatusCreated, sessionResponse{User: sess.User, AccessToken: sess.AccessToken, ExpiresAt: sess.AccessExpiresAt})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	sess, err := a.svc.Login(r.Context(), req.Email, req.Password, device(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess)
	writeJSON(w, http.StatusOK, sessionResponse{User: sess.User, AccessToken: sess.AccessToken, ExpiresAt: sess.AccessExpiresAt})
}

// handleRefresh accepts the refresh token from the body or the refresh cookie.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = cookieValue(r, RefreshCookie)
	}

	sess, err := a.svc.Rotate(r.Context(), token, device(r))
	if err != nil {
		if k := auth.KindOf(err); k == auth.KindInvalidRefreshToken || k == auth.KindRefreshTokenExpired {
			a.clearSessionCookies(w)
		}
		writeAuthError(w, r, err)
		return
	}
	a.setSessionCookies(w, sess)
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: sess.AccessToken, ExpiresAt: sess.AccessExpiresAt})
}

// handleLogout always clears the session cookies. A refresh proof in
// X-Refresh-Token additionally revokes every refresh record of the subject.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	var revoked int64
	if proof := r.Header.Get(refreshProofHeader); proof != "" {
		n, err := a.svc.Logout(r.Context(), subject, proof)
		if err != nil {
			obs.Warn("auth.logout.revoke.fail", map[string]any{
				"request_id": audit.RequestIDFromContext(r.Context()),
				"subject_id": subject,
				"err":        err.Error(),
			})
		}
		revoked = n
	}
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "logged_out",
		"revoked": revoked,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, auth.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: id.User})
}

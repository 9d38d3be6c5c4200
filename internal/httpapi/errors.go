package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"spendly.app/internal/audit"
	"spendly.app/internal/auth"
	"spendly.app/internal/obs"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     errorBody{Code: code, Message: msg},
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// writeAuthError maps a session error onto its status and stable code.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var e *auth.Error
	if !errors.As(err, &e) || e.Kind == auth.KindUnknown {
		obs.Error("http.internal_error", err, map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	status, code := statusFor(e)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="spendly"`)
	}
	writeError(w, r, status, code, e.PublicMessage())
}

func statusFor(e *auth.Error) (int, string) {
	switch e.Kind {
	case auth.KindUnauthenticated:
		switch e.Reason {
		case auth.ReasonTokenExpired:
			return http.StatusUnauthorized, "TOKEN_EXPIRED"
		case auth.ReasonInvalidToken:
			return http.StatusUnauthorized, "INVALID_TOKEN"
		}
		return http.StatusUnauthorized, e.Kind.Code()
	case auth.KindInvalidRefreshToken, auth.KindRefreshTokenExpired, auth.KindInvalidCredentials:
		return http.StatusUnauthorized, e.Kind.Code()
	case auth.KindRefreshTokenRequired, auth.KindValidation:
		return http.StatusBadRequest, e.Kind.Code()
	case auth.KindEmailExists:
		return http.StatusConflict, e.Kind.Code()
	default:
		return http.StatusInternalServerError, e.Kind.Code()
	}
}

var errBodyRequired = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, errBodyRequired) {
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, auth.KindValidation.Code(), err.Error())
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

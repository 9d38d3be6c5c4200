package client

import (
	"encoding/json"
	"fmt"
)

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsAuthError reports a missing, expired or invalid access credential.
func (e *APIError) IsAuthError() bool {
	switch e.Code {
	case "UNAUTHENTICATED", "TOKEN_EXPIRED", "INVALID_TOKEN":
		return true
	}
	return false
}

// IsInvalidCredentials reports a failed login.
func (e *APIError) IsInvalidCredentials() bool {
	return e.Code == "INVALID_CREDENTIALS"
}

// IsConflict returns true if the email is already registered.
func (e *APIError) IsConflict() bool {
	return e.Code == "EMAIL_EXISTS"
}

// IsValidationError returns true if this is a validation error.
func (e *APIError) IsValidationError() bool {
	return e.Code == "VALIDATION_ERROR"
}

type errorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

func parseError(status int, body []byte) error {
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Code != "" {
		env.Error.StatusCode = status
		env.Error.RequestID = env.RequestID
		return &env.Error
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

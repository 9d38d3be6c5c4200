package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")

	// ErrTokenExpired indicates a well-formed, correctly signed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenMalformed indicates a token with a bad signature, structure, issuer or type.
	ErrTokenMalformed = errors.New("auth: token malformed")
)

// Kind classifies errors that cross the transport boundary.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindInvalidRefreshToken
	KindRefreshTokenExpired
	KindRefreshTokenRequired
	KindEmailExists
	KindInvalidCredentials
	KindValidation
)

// Code returns the stable machine-readable code for k.
func (k Kind) Code() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindInvalidRefreshToken:
		return "INVALID_REFRESH_TOKEN"
	case KindRefreshTokenExpired:
		return "REFRESH_TOKEN_EXPIRED"
	case KindRefreshTokenRequired:
		return "REFRESH_TOKEN_REQUIRED"
	case KindEmailExists:
		return "EMAIL_EXISTS"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindValidation:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is the tagged error returned by the session components.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind    Kind
	Message string
	// Reason refines the kind for callers that care, e.g. "token_expired".
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Kind]
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// PublicMessage is the human message safe to return to clients.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultMessages[e.Kind]
}

var defaultMessages = map[Kind]string{
	KindUnknown:              "internal error",
	KindUnauthenticated:      "authentication required",
	KindInvalidRefreshToken:  "invalid refresh token",
	KindRefreshTokenExpired:  "refresh token expired",
	KindRefreshTokenRequired: "refresh token required",
	KindEmailExists:          "email already registered",
	KindInvalidCredentials:   "invalid email or password",
	KindValidation:           "invalid request",
}

// Sentinels for errors.Is matching by kind.
var (
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrInvalidRefreshToken  = &Error{Kind: KindInvalidRefreshToken}
	ErrRefreshTokenExpired  = &Error{Kind: KindRefreshTokenExpired}
	ErrRefreshTokenRequired = &Error{Kind: KindRefreshTokenRequired}
	ErrEmailExists          = &Error{Kind: KindEmailExists}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrValidation           = &Error{Kind: KindValidation}
)

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// ValidationError builds a KindValidation error carrying msg to the client.
func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Package apperr holds the typed failures surfaced by the authentication
// core. Each failure carries a stable code and a default HTTP status.
package apperr

import (
	"errors"
	"net/http"
)

// Error is a recoverable, caller-facing failure.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code string, status int, msg string) *Error {
	return &Error{Code: code, Status: status, Message: msg}
}

var (
	ErrPrincipalNotFound = newError("PRINCIPAL_NOT_FOUND", http.StatusUnauthorized, "principal not found")
	ErrInvalidPassword   = newError("INVALID_PASSWORD", http.StatusUnauthorized, "invalid password")
	ErrAccountLocked     = newError("ACCOUNT_LOCKED", http.StatusForbidden, "account locked")
	ErrAccountDeleted    = newError("ACCOUNT_DELETED", http.StatusGone, "account deleted")
	ErrAccountInactive   = newError("ACCOUNT_INACTIVE", http.StatusForbidden, "account inactive")
	ErrAccountSuspended  = newError("ACCOUNT_SUSPENDED", http.StatusForbidden, "account suspended")
	ErrEmailNotVerified  = newError("EMAIL_NOT_VERIFIED", http.StatusForbidden, "email not verified")
	ErrInvalidToken      = newError("INVALID_TOKEN", http.StatusBadRequest, "invalid token")
	ErrExpiredToken      = newError("EXPIRED_TOKEN", http.StatusGone, "expired token")
	ErrMalformedToken    = newError("MALFORMED_TOKEN", http.StatusUnauthorized, "malformed token")
	ErrWrongTokenClass   = newError("WRONG_TOKEN_CLASS", http.StatusUnauthorized, "wrong token class")

	ErrWeakPassword    = newError("WEAK_PASSWORD", http.StatusBadRequest, "password does not meet policy")
	ErrInvalidRequest  = newError("INVALID_REQUEST", http.StatusBadRequest, "invalid request")
	ErrUnauthenticated = newError("UNAUTHENTICATED", http.StatusUnauthorized, "authentication required")
	ErrRateLimited     = newError("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")
	ErrRequestTooLarge = newError("REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge, "request body too large")
)

// CodeInvalidCredentials is reported for both PrincipalNotFound and
// InvalidPassword so callers cannot enumerate login keys.
const CodeInvalidCredentials = "INVALID_CREDENTIALS"

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Public returns the code and status a client should see for err.
// Unknown errors map to INTERNAL/500.
func Public(err error) (code string, status int, msg string) {
	e, ok := As(err)
	if !ok {
		return "INTERNAL", http.StatusInternalServerError, "internal error"
	}
	if e == ErrPrincipalNotFound || e == ErrInvalidPassword {
		return CodeInvalidCredentials, http.StatusUnauthorized, "invalid credentials"
	}
	return e.Code, e.Status, e.Message
}

// ForReason maps a recorded login failure reason to its typed failure.
func ForReason(reason string) *Error {
	switch reason {
	case "ACCOUNT_DELETED":
		return ErrAccountDeleted
	case "ACCOUNT_LOCKED":
		return ErrAccountLocked
	case "ACCOUNT_INACTIVE":
		return ErrAccountInactive
	case "ACCOUNT_SUSPENDED":
		return ErrAccountSuspended
	case "EMAIL_NOT_VERIFIED":
		return ErrEmailNotVerified
	default:
		return ErrInvalidPassword
	}
}

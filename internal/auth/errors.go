package auth

import "errors"

// Sentinel errors returned by the core services. Transport layers map these
// 1:1 onto status codes.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidToken indicates a session or action token failed validation.
	ErrInvalidToken = errors.New("invalid token")

	// Login-blocking conditions carry distinct identities so callers can
	// route the user to the correct remediation flow.
	ErrAccountLocked          = errors.New("account locked")
	ErrPasswordExpired        = errors.New("password expired")
	ErrPasswordChangeRequired = errors.New("password change required")

	// ErrPolicyViolation flags password reuse or complexity failures.
	ErrPolicyViolation = errors.New("password policy violation")
)

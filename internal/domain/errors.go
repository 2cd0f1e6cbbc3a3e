package domain

import "errors"

var (
	// ErrInvalidInput indicates caller input validation errors.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrInvalidHeader indicates a missing or malformed Authorization header.
	ErrInvalidHeader = errors.New("auth: invalid authorization header")
	// ErrInvalidCredential indicates an unverifiable or inactive credential.
	// Callers must not leak which liveness check failed.
	ErrInvalidCredential = errors.New("auth: invalid or inactive credential")
	// ErrUserNotFound signals the credential references a missing user.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrAppNotFound signals the credential references a missing app.
	ErrAppNotFound = errors.New("auth: app not found")
)

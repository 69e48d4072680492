// Package common defines shared constants and sentinel errors used across
// the engine, the control API and the operator CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStoreCorruption is returned when a stored secret cannot be decrypted
	// (wrong or rotated key, tampered ciphertext). It must never be treated as
	// absence of the record.
	ErrStoreCorruption = errors.New("store corruption")

	// ErrStateConflict is returned when a guarded state transition lost a race
	// (the row was no longer in the expected state).
	ErrStateConflict = errors.New("state conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Validation errors.
	ErrorValidation = errors.New("validation error")
)

// Task outcome taxonomy. Every platform failure is mapped onto one of these
// before it crosses a service boundary.
var (
	// ErrTransient covers network failures, timeouts and platform rate limits.
	// Work is retried with backoff or deferred.
	ErrTransient = errors.New("transient failure")

	// ErrQuotaExceeded is a locally enforced policy limit. Work is deferred
	// until the window resets.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyDone marks an idempotent no-op (already published, joined or fetched).
	ErrAlreadyDone = errors.New("already done")

	// ErrPermissionDenied and ErrNotFound are permanent; the task fails with a
	// reason code and is not retried.
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("target not found")

	// ErrAccountCompromised means the platform banned or revoked the account.
	ErrAccountCompromised = errors.New("account compromised")
)

// Pool errors.
var (
	ErrProxiesExhausted = errors.New("no eligible proxy")
	ErrNoIdleAccount    = errors.New("no idle account")
	ErrProxyRetired     = errors.New("proxy retired")
)

package domain

import "errors"

var (
	// ErrAuthUnavailable is returned when no identity exists and issuance failed.
	// Every write path fails with it until sign-in succeeds.
	ErrAuthUnavailable = errors.New("auth unavailable")

	// ErrInvalidParticipant rejects empty or self thread targets and blank
	// message bodies before any remote call is made.
	ErrInvalidParticipant = errors.New("invalid participant")

	ErrInvalidProfile = errors.New("invalid profile")

	// ErrTransport wraps document store read, write and subscribe failures.
	ErrTransport = errors.New("transport error")

	// ErrDecode marks a malformed remote record. Callers treat it as absence.
	ErrDecode = errors.New("decode error")
)

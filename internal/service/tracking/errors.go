package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	// ErrUnknownToken means a beacon referenced a token that was never issued
	// (or did not parse as a token id). Treated as a security signal.
	ErrUnknownToken = errors.New("unknown tracking token")

	// ErrStoreUnavailable wraps transient persistence failures. Appends that
	// fail with it are retried in the background.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrInvalidRedirectTarget means a click destination failed the allow-list.
	ErrInvalidRedirectTarget = errors.New("invalid redirect target")

	// ErrInvalidInput is returned for malformed issue requests.
	ErrInvalidInput = errors.New("invalid input")
)

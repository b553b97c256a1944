// Package apperrors defines standardized sentinel errors for venue and
// infrastructure failures so call sites can classify with errors.Is.
package apperrors

import "errors"

// Venue transport and order errors.
var (
	ErrOrderRejected        = errors.New("order rejected")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrder       = errors.New("duplicate order")
	ErrUnknownVenue         = errors.New("unknown venue")
	ErrVenueUnavailable     = errors.New("venue unavailable")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidOrderParam    = errors.New("invalid order parameter")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Infrastructure errors.
var (
	ErrStreamClosed  = errors.New("stream closed")
	ErrTopicNotFound = errors.New("topic not found")
)

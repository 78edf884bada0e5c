package venue

import (
	"errors"
	"fmt"
	"time"
)

// Terminal adapter errors. These surface to the engine unretried and never
// trip the circuit breaker.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrPositionNotFound    = errors.New("position not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAuthFailure         = errors.New("authentication failed")
	ErrUnsupported         = errors.New("operation not supported by venue")
)

// ErrCircuitOpen is returned by the resilience wrapper when a venue scope's
// circuit breaker is open; the venue is never contacted.
var ErrCircuitOpen = errors.New("venue circuit open")

// RetryableError marks a transient transport or 5xx failure
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// RateLimitError marks a 429 response; RetryAfter is zero when the venue did
// not supply one
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// APIError carries a venue error code the taxonomy does not classify.
// Non-retryable by default.
type APIError struct {
	Venue   Venue
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Venue, e.Code, e.Message)
}

// Retryable wraps err as a transient failure
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether the resilience wrapper should retry err
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterHint returns the venue-supplied retry delay, if any
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTerminal reports whether err is a business outcome rather than a venue
// availability problem. Terminal errors do not count against the breaker.
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInvalidLeverage),
		errors.Is(err, ErrPositionNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrAuthFailure),
		errors.Is(err, ErrUnsupported):
		return true
	}
	return false
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StatusError is an HTTP-level failure from an external service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// transientCodes are retried; permanentCodes fail fast.
var transientCodes = map[int]bool{
	429: true, // rate limited
	500: true,
	502: true,
	503: true,
	504: true,
}

var permanentCodes = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
	405: true,
	409: true,
	422: true,
}

// permanentError marks an error as never-retry regardless of its text.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Transient always reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// transientPatterns is the message-level fallback when no structured
// classification applies.
var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"rate limit",
	"throttl",
	"overloaded",
	"too many requests",
}

// Transient reports whether err should be retried. Unknown errors are treated
// as permanent so misconfiguration fails fast instead of burning retries.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		if transientCodes[se.Code] {
			return true
		}
		if permanentCodes[se.Code] {
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pat := range transientPatterns {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}

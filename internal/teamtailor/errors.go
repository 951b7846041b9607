package teamtailor

import (
	"errors"
	"fmt"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrNotFound matches any 404 response and exhausted endpoint fallbacks.
	ErrNotFound = errors.New("teamtailor: resource not found")
	// ErrRetriesExhausted wraps the last transient error once the retry
	// ceiling is reached.
	ErrRetriesExhausted = errors.New("teamtailor: retries exhausted")
	// ErrMalformedResponse wraps decode and envelope validation failures.
	ErrMalformedResponse = errors.New("teamtailor: malformed response")
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("teamtailor %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("teamtailor %s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Error is a transport-level failure (connection, timeout, body read).
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("teamtailor request to %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("teamtailor request to %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is a 404 or an exhausted endpoint list.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying: rate limits, 5xx and
// transport failures. A cancelled caller context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var transportErr *Error
	return errors.As(err, &transportErr)
}

// IsCircuitOpen reports whether the circuit breaker rejected the request.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Package llm wraps model clients with error classification, retry, and
// slot-bounded scheduling. The actual wire client is injected; tests use the
// scripted client in this package.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates the provider throttled the call. Retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrOverloaded indicates transient provider overload. Retryable.
	ErrOverloaded = errors.New("provider overloaded")

	// ErrNetwork indicates a transport-level failure. Retryable.
	ErrNetwork = errors.New("network error")

	// ErrAuthentication indicates a bad or missing credential. Not
	// retryable; retrying cannot fix a bad key.
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidRequest indicates a malformed request. Not retryable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMaxRetriesExceeded indicates all retry attempts failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// APIError carries provider error detail while classifying through a
// sentinel so callers can use errors.Is.
type APIError struct {
	Kind       error  // one of the sentinels above
	StatusCode int    // 0 when no HTTP status applies
	Message    string // provider-supplied detail
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// ClassifyStatus maps an HTTP status onto the error taxonomy.
func ClassifyStatus(status int, message string) error {
	var kind error
	switch {
	case status == 401 || status == 403:
		kind = ErrAuthentication
	case status == 429:
		kind = ErrRateLimited
	case status == 529:
		kind = ErrOverloaded
	case status >= 500:
		kind = ErrNetwork
	case status >= 400:
		kind = ErrInvalidRequest
	default:
		return nil
	}
	return &APIError{Kind: kind, StatusCode: status, Message: message}
}

// Retryable reports whether a failed call is worth repeating. Context
// cancellation and deadline expiry are never retryable: the caller asked to
// stop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrOverloaded) ||
		errors.Is(err, ErrNetwork)
}

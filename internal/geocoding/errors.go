package geocoding

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes a provider can report.
// The retry policy in Client switches on it.
type ErrorKind int

const (
	// KindTransient failures (timeouts, 429, 503, other server errors) are retried with backoff.
	KindTransient ErrorKind = iota
	// KindTerminal failures (403, bad credentials, malformed coordinates) are never retried.
	KindTerminal
	// KindNotFound means the service answered but had no match. It is not a failure of the call.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Common errors shared by providers.
var (
	ErrForbidden     = errors.New("403 forbidden: check user agent or blocked ip")
	ErrNoMatch       = errors.New("geocoding service returned no match")
	ErrInvalidCoords = errors.New("geocoding service returned invalid coordinates")
)

// Error attaches an ErrorKind and an optional HTTP status to a provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error, statusCode int) *Error {
	return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
}

// Terminal wraps err as a non-retryable failure.
func Terminal(err error, statusCode int) *Error {
	return &Error{Kind: KindTerminal, StatusCode: statusCode, Err: err}
}

// NotFound reports an empty answer from the service.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Err: ErrNoMatch}
}

// KindOf classifies err. A classified *Error anywhere in the chain wins; context
// cancellation is terminal so retries stop; anything else is treated as transient.
func KindOf(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTerminal
	}

	return KindTransient
}

// StatusOf returns the HTTP status recorded on a classified error, or 0.
func StatusOf(err error) int {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.StatusCode
	}
	return 0
}

package resilience

import (
	"errors"
	"net/http"
)

// TransientError marks a failed upstream attempt that may succeed if repeated.
// StatusCode is the HTTP status that caused it, or 0 when no response arrived.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as retryable and records the status behind it.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err carries a TransientError anywhere in its
// chain. Callers decide transience when they build the error, so nothing is
// inferred from the error text.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsUnreachable reports whether err is a transient failure that never got an
// HTTP response: dial, TLS, timeout or a broken body read.
func IsUnreachable(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.StatusCode == 0
}

// IsTransientHTTPStatus reports whether an upstream status warrants another
// attempt: 429 or any 5xx.
func IsTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// IsTerminalHTTPStatus reports whether a status ends the retry loop as a
// completed exchange. 404 is a data outcome, not a server fault.
func IsTerminalHTTPStatus(statusCode int) bool {
	return statusCode < http.StatusBadRequest || statusCode == http.StatusNotFound
}

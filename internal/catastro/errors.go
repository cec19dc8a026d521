package catastro

import (
	"errors"
	"fmt"
)

// Kind classifies an acquisition failure.
type Kind string

const (
	// KindInvalidInput means the identifier could not be sanitized.
	KindInvalidInput Kind = "invalid_input"
	// KindUnavailable means both endpoints failed after retries.
	KindUnavailable Kind = "upstream_unavailable"
	// KindUpstreamData means the upstream answered with an explicit error node.
	KindUpstreamData Kind = "upstream_data_error"
	// KindMalformed means the payload is not well-formed XML.
	KindMalformed Kind = "malformed_response"
	// KindNoData means well-formed XML without any property node.
	KindNoData Kind = "no_data"
	// KindInternal covers everything unexpected.
	KindInternal Kind = "internal"
)

// Error is the typed failure produced by the parser and the service.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may reasonably try again later.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// Package backend provides the model-backend client and the health-checked
// fallback selector that sits underneath every LLM-dependent step of the
// optimization pipeline.
package backend

import (
	"errors"
	"fmt"
)

// ErrorType classifies backend failures so callers can decide between
// falling back to the next backend and failing the session.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeUnavailable marks connection or timeout failures against one
	// backend. Recoverable via fallback.
	ErrorTypeUnavailable
	// ErrorTypeAPI marks a non-success upstream status. Recoverable via
	// fallback.
	ErrorTypeAPI
	// ErrorTypeParse marks a response body that could not be interpreted.
	ErrorTypeParse
	// ErrorTypeAllUnavailable means the whole fallback chain was exhausted.
	// Fatal to the session.
	ErrorTypeAllUnavailable
)

// Error is the typed error produced by this package.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.TypeString(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeString(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) TypeString() string {
	switch e.Type {
	case ErrorTypeUnavailable:
		return "BackendUnavailable"
	case ErrorTypeAPI:
		return "BackendError"
	case ErrorTypeParse:
		return "ResponseParseError"
	case ErrorTypeAllUnavailable:
		return "AllBackendsUnavailable"
	default:
		return "UnknownError"
	}
}

func NewError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// IsAllUnavailable reports whether err means the entire fallback chain is
// down, the one backend failure a session cannot absorb.
func IsAllUnavailable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Type == ErrorTypeAllUnavailable
}

// Package errors provides structured error handling for the refdata engine.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeTransport represents network/HTTP failures (retried, then surfaced).
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeStructuralParse represents a payload that does not match the
	// expected shape for its extractor (page layout changed).
	ErrorTypeStructuralParse ErrorType = "structural_parse"
	// ErrorTypeRecord represents a single malformed entry within an otherwise
	// valid page. Sibling entries still succeed.
	ErrorTypeRecord ErrorType = "record"
	// ErrorTypeConflict represents a merge-time disagreement between sources.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeSink represents downstream persistence failures.
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeConfig represents configuration errors. Config errors are run-fatal.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeValidation represents input validation errors.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeFailureCeiling represents a category exceeding its
	// consecutive-failure ceiling. Always run-fatal.
	ErrorTypeFailureCeiling ErrorType = "failure_ceiling"
	// ErrorTypeTimeout represents per-attempt fetch timeouts.
	ErrorTypeTimeout ErrorType = "timeout"
)

// Error is a structured error with a category, an optional cause and
// free-form detail values for logging.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value previously attached with WithDetail.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Cause: err}
}

// TypeOf returns the error type of err, or the empty string for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsType reports whether err carries the given error type anywhere in its chain.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable returns true if the error is worth retrying. Only transient
// transport conditions qualify; parse and config errors never do. A transport
// error can opt out of retries (e.g. a 404) via the "retryable" detail.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeTransport, ErrorTypeTimeout:
		var e *Error
		errors.As(err, &e)
		if v, ok := e.Details["retryable"]; ok {
			b, _ := v.(bool)
			return b
		}
		return true
	default:
		return false
	}
}

// IsFatal returns true for conditions that must abort the run: bad
// configuration (unknown loader, malformed source entry), invalid run input
// (bad key selection), or a category exceeding its consecutive-failure
// ceiling.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeConfig, ErrorTypeValidation, ErrorTypeFailureCeiling:
		return true
	}
	return false
}

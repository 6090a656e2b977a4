// Package ferrors defines the job-lifecycle error kinds from spec §7 and
// their HTTP status class mapping, consumed by forge/httpapi.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes from §7.
type Kind string

const (
	KindValidation        Kind = "validation.rejected"
	KindNotFound          Kind = "resource.not_found"
	KindConflict          Kind = "resource.conflict"
	KindPluginUnavailable Kind = "plugin.unavailable"
	KindPluginFailed      Kind = "plugin.failed"
	KindQueueTransient    Kind = "queue.transient"
	KindRateExceeded      Kind = "rate.exceeded"
)

// Error is the structured error type every forge component returns for
// domain-level failures. It wraps an optional cause and carries enough
// structure for the HTTP layer to render {detail} (and, for rate limits,
// {error, retry_after}) without re-deriving classification from strings.
type Error struct {
	Kind    Kind
	Message string
	Reason  string // e.g. a capability validator's `reason` field
	// RetryAfterSeconds is set only for KindRateExceeded.
	RetryAfterSeconds int
	Cause             error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps a Kind to the response status class from §7.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindConflict:
		return 400
	case KindNotFound:
		return 404
	case KindPluginUnavailable:
		return 503
	case KindRateExceeded:
		return 429
	case KindPluginFailed, KindQueueTransient:
		return 500
	default:
		return 500
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation builds a validation.rejected error with a capability/bounds
// reason attached (e.g. "gradient_accumulation is not wired").
func Validation(message, reason string) *Error {
	return &Error{Kind: KindValidation, Message: message, Reason: reason}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func RateExceeded(retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateExceeded, Message: "rate limit exceeded", RetryAfterSeconds: retryAfterSeconds}
}

// As is a thin convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var fe *Error
	ok := errors.As(err, &fe)
	return fe, ok
}

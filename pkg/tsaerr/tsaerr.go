// Package tsaerr defines the closed set of error kinds that cross every
// public boundary of the timestamp mediator. Components never return ad-hoc
// errors to callers outside their own package; they wrap failures into an
// *Error carrying one of the Kind values below.
package tsaerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a closed enumeration of error categories. Callers switch on Kind,
// never on message text.
type Kind string

const (
	InvalidInput           Kind = "invalid_input"
	PolicyUnavailable      Kind = "policy_unavailable"
	PolicyNotAccepted      Kind = "policy_not_accepted"
	NoHealthyProvider      Kind = "no_healthy_provider"
	ProviderTransport      Kind = "provider_transport"
	DeadlineExceeded       Kind = "deadline_exceeded"
	ValidationFailed       Kind = "validation_failed"
	PolicyValidationFailed Kind = "policy_validation_failed"
)

// maxMessageBytes bounds sanitized messages leaving the core (§7: all error
// messages are sanitized and truncated to <=200 bytes).
const maxMessageBytes = 200

// FieldError is one entry of a PolicyValidationFailed error's Errors slice.
type FieldError struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
}

// Error is the structured error type returned across every public boundary.
type Error struct {
	Kind    Kind
	Reason  string       // populated for ValidationFailed
	Errors  []FieldError // populated for PolicyValidationFailed
	Message string
	cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ValidationFailed:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
	case PolicyValidationFailed:
		return fmt.Sprintf("%s: %d field error(s)", e.Kind, len(e.Errors))
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target's Kind matches, so callers can use errors.Is
// with a sentinel built from New(kind, "").
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind with a sanitized free-text message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: Sanitize(message)}
}

// Wrap builds an Error of the given kind, keeping cause for internal logging
// via %w/errors.Unwrap but never exposing cause's text through Error().
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: Sanitize(message), cause: cause}
}

// ValidationFailure builds a validation_failed(reason) error per §4.5/§7.
func ValidationFailure(reason string) *Error {
	return &Error{Kind: ValidationFailed, Reason: reason}
}

// PolicyValidationFailure builds a policy_validation_failed(errors) error per §4.4/§7.
func PolicyValidationFailure(errs []FieldError) *Error {
	return &Error{Kind: PolicyValidationFailed, Errors: errs}
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sanitize strips control characters and truncates to maxMessageBytes, so
// that no raw parser output, stack trace, or certificate byte ever leaves
// the core through an error message.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteByte(' ')
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxMessageBytes {
		out = out[:maxMessageBytes]
	}
	return out
}

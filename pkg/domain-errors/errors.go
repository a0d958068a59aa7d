// Package dErrors defines the coded error taxonomy used across the core.
//
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// them into coded domain errors with New or Wrap. Transport layers map codes
// onto HTTP statuses in exactly one place, so a service never needs to know
// how it is being served.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Handlers switch on codes, never on message
// text.
type Code string

const (
	// CodeValidation marks malformed or missing input. Local to the request,
	// never retried.
	CodeValidation Code = "validation"

	// CodeInvalidInput marks values rejected at a trust boundary (IDs, enums).
	CodeInvalidInput Code = "invalid_input"

	// CodeConflict marks a uniqueness violation surfaced by the store: a
	// duplicate hashed national ID within a tenant, or a second active legal
	// document of the same type.
	CodeConflict Code = "conflict"

	// CodeForbidden marks a role or tenant mismatch. Deny responses carry this
	// code whether the object exists in another tenant or not at all, so
	// callers cannot probe for cross-tenant existence.
	CodeForbidden Code = "forbidden"

	// CodeConsentRequired is distinct from CodeForbidden so callers can route
	// the user into the consent flow instead of a generic error page.
	CodeConsentRequired Code = "consent_required"

	// CodeUnauthorized marks requests with no authenticated principal.
	CodeUnauthorized Code = "unauthorized"

	// CodeNotFound marks a missing record within the caller's own tenant.
	CodeNotFound Code = "not_found"

	// CodeInvariantViolation marks an illegal state transition or constructor
	// input that would break an aggregate invariant.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInternal marks unexpected persistence or infrastructure failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. The wrapped cause, when present, is
// reachable through errors.Is/As for sentinel checks.
type Error struct {
	Code    Code
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewField creates a coded error attributed to a specific input field, for
// validation and conflict responses that name the offending field.
func NewField(code Code, field, message string) *Error {
	return &Error{Code: code, Message: message, Field: field}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for uncoded
// errors so nothing leaks raw infrastructure detail to callers.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldOf returns the offending field name, if the error names one.
func FieldOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Field
	}
	return ""
}

// Is allows comparison against another coded error by code.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

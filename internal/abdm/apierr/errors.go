package apierr

import (
	"errors"
	"fmt"
)

// Kind is the stable, caller-facing classification of a failure. Field-level
// validation errors reported by the authority use the offending field name as
// their kind (for example "loginId").
type Kind string

const (
	// Locally detected, before any network call.
	KindValidation         Kind = "VALIDATION_ERROR"
	KindInvalidFieldFormat Kind = "INVALID_FIELD_FORMAT"

	// Service-level authentication problems.
	KindCredentialsMissing  Kind = "CREDENTIALS_MISSING"
	KindUpstreamAuthFailure Kind = "UPSTREAM_AUTH_FAILURE"

	// Fails closed: a sensitive field is never sent in plaintext.
	KindEncryptionKeyUnavailable Kind = "ENCRYPTION_KEY_UNAVAILABLE"

	// Declared by the authority; the caller restarts the relevant step.
	KindInvalidTransaction Kind = "INVALID_TRANSACTION"
	KindInvalidOTP         Kind = "INVALID_OTP"
	KindMaxOTPAttempts     Kind = "MAX_OTP_ATTEMPTS"
	KindSessionExpired     Kind = "SESSION_EXPIRED"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindRateLimited        Kind = "RATE_LIMITED"

	// Not failures from the user's perspective; re-routed to profile retrieval.
	KindDuplicateIdentity Kind = "DUPLICATE_IDENTITY"
	KindDuplicateAddress  Kind = "DUPLICATE_ADDRESS"

	KindNetwork  Kind = "NETWORK_ERROR"
	KindNotFound Kind = "NOT_FOUND"
	KindUpstream Kind = "UPSTREAM_ERROR"
	KindInternal Kind = "INTERNAL_ERROR"
)

const (
	msgNetwork  = "Network error occurred. Please try again."
	msgInternal = "Something went wrong, please try again later."
)

// Error is the normalized error value returned by every component of the
// gateway. Message is always safe to show to an end user; Code keeps the raw
// authority code for logs and is never rendered to callers.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	// Code is the authority error code, if one was present.
	Code string
	// Status is the upstream HTTP status, zero for locally raised errors.
	Status int
	// Field is set when the authority reported a field-level validation error.
	Field string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is / errors.As on the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsFieldError reports whether the authority rejected a specific request field.
func (e *Error) IsFieldError() bool {
	return e.Field != ""
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that keeps err as its cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// Validation creates a locally detected validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Network creates the error used when no response was received at all,
// including timeouts.
func Network(err error) *Error {
	return Wrap(err, KindNetwork, msgNetwork)
}

// Internal hides an unexpected failure behind a generic message.
func Internal(err error) *Error {
	return Wrap(err, KindInternal, msgInternal)
}

// As extracts a normalized error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of a normalized error, or KindInternal for anything else.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is a normalized error of one of the given kinds.
func Is(err error, kinds ...Kind) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// IsDuplicate reports whether err signals an account or address that already
// exists. Callers offer login or profile retrieval instead of a retry.
func IsDuplicate(err error) bool {
	return Is(err, KindDuplicateIdentity, KindDuplicateAddress)
}

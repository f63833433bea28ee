package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeInvalidState Code = "invalid_state"
	CodeTimeout      Code = "timeout"

	// Credential exchange error codes. These cover both protocol families and
	// are stable across the HTTP boundary.
	CodeProtocolMismatch       Code = "protocol_mismatch"         // Template declares a different protocol than the adapter
	CodeInvalidEventForState   Code = "invalid_event_for_state"   // Event is not a legal transition from the current state
	CodeStaleTransition        Code = "stale_transition"          // Compare-and-swap lost against a concurrent transition
	CodeDuplicateCorrelation   Code = "duplicate_correlation"     // Unique correlation value already bound to an active session
	CodeUnknownStatusListEntry Code = "unknown_status_list_entry" // Status list or index does not exist
	CodeCapacityExhausted      Code = "capacity_exhausted"        // Status list has no free indices
	CodeSessionNotIssued       Code = "session_not_issued"        // Revocation requested before credential issuance
	CodeIncompleteClaimSet     Code = "incomplete_claim_set"      // Issued claims do not cover the template's required set
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		// Preserve the original domain code, update message
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

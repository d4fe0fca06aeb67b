package oracle

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
type Kind string

const (
	KindValidation                Kind = "Validation"
	KindHashMismatch              Kind = "HashMismatch"
	KindSignatureInvalid          Kind = "SignatureInvalid"
	KindStorageUnavailable        Kind = "StorageUnavailable"
	KindProviderUnavailable       Kind = "ProviderUnavailable"
	KindEncryptionPolicyViolation Kind = "EncryptionPolicyViolation"
	KindInternal                  Kind = "Internal"
)

// Reason refines a Validation error.
type Reason string

const (
	ReasonMissingField Reason = "MissingField"
	ReasonInvalidType  Reason = "InvalidType"
	ReasonInvalidEnum  Reason = "InvalidEnum"
	ReasonOutOfRange   Reason = "OutOfRange"
	ReasonEmpty        Reason = "Empty"
	ReasonMalformed    Reason = "Malformed"
)

// Error is the structured error type shared by every oracle component.
//
// RuleID is a stable identifier (e.g., ORACLE-VAL-003, ORACLE-SEAL-001) naming
// the violated rule. Field is a dotted document path for validation failures.
// Expected/Actual are set for HashMismatch.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind     Kind
	RuleID   string
	Reason   Reason
	Field    string
	Expected string
	Actual   string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a structured error without a cause.
func NewError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// WrapError returns a structured error wrapping cause. A nil cause behaves like NewError.
func WrapError(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// FieldError returns a Validation error for a single document path.
func FieldError(ruleID string, reason Reason, field, msg string) *Error {
	return &Error{Kind: KindValidation, RuleID: ruleID, Reason: reason, Field: field, Message: msg}
}

// Mismatch returns a HashMismatch error carrying both digests.
func Mismatch(ruleID, expected, actual string) error {
	return &Error{
		Kind:     KindHashMismatch,
		RuleID:   ruleID,
		Expected: expected,
		Actual:   actual,
		Message:  "hash mismatch: expected " + expected + ", got " + actual,
	}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}

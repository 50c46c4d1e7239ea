package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures from the remote store and media host
// so callers can branch on the category instead of matching message
// text.
type ErrorKind int

const (
	// KindTransport covers network and 5xx failures. The only
	// retryable kind.
	KindTransport ErrorKind = iota
	// KindDuplicate means the remote store already holds the record.
	// An expected outcome, counted as skipped.
	KindDuplicate
	// KindConflict means the destination object already exists on the
	// media host. Success-equivalent for content-addressed uploads.
	KindConflict
	// KindAuth covers rejected credentials. Never retried.
	KindAuth
	// KindValidation covers bad or missing configuration and requests
	// the remote side refuses as malformed.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDuplicate:
		return "duplicate"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error carried structurally through the
// pipeline.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and the failing operation.
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kind-tagged error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err. Untagged errors are treated as
// transport failures so unknown breakage stays retryable and
// non-fatal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

func is(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsDuplicate reports whether err is a duplicate-record failure.
func IsDuplicate(err error) bool { return is(err, KindDuplicate) }

// IsConflict reports whether err is an already-exists conflict.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool { return is(err, KindAuth) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return is(err, KindValidation) }

// Retryable reports whether err is worth another attempt. Auth
// failures and conflicts never retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransport
}

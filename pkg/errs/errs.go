// Package errs is the error taxonomy shared by the identity, agreement, and
// arbitration services. Every failure a caller can act on carries a Kind;
// the CLI maps kinds to exit codes and the API maps them to HTTP statuses.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindUnknown is reported for errors that carry no kind, such as I/O failures.
	KindUnknown Kind = ""

	// KindValidation covers malformed input and unmet preconditions.
	KindValidation Kind = "validation"

	// KindUnauthorized is returned when the actor may not perform the action.
	KindUnauthorized Kind = "unauthorized"

	// KindStateConflict is returned for illegal state transitions and stale versions.
	KindStateConflict Kind = "state_conflict"

	// KindSignatureVerification is returned when a signature or chain link fails to verify.
	KindSignatureVerification Kind = "signature_verification"

	// KindNotFound is returned when a record does not exist.
	KindNotFound Kind = "not_found"

	// KindDuplicate is returned when an operation was already applied.
	KindDuplicate Kind = "duplicate"
)

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, errs.ErrDuplicate)
// holds for every duplicate error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrStateConflict         = &Error{Kind: KindStateConflict}
	ErrSignatureVerification = &Error{Kind: KindSignatureVerification}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrDuplicate             = &Error{Kind: KindDuplicate}
)

// New returns an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation, Unauthorized, StateConflict, SignatureVerification, NotFound and
// Duplicate are shorthands for Newf with the matching kind.
func Validation(format string, args ...any) error {
	return Newf(KindValidation, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return Newf(KindUnauthorized, format, args...)
}

func StateConflict(format string, args ...any) error {
	return Newf(KindStateConflict, format, args...)
}

func SignatureVerification(format string, args ...any) error {
	return Newf(KindSignatureVerification, format, args...)
}

func NotFound(format string, args ...any) error {
	return Newf(KindNotFound, format, args...)
}

func Duplicate(format string, args ...any) error {
	return Newf(KindDuplicate, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps an error to the command-line exit status: 0 on success,
// 2 for cryptographic verification failures, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if KindOf(err) == KindSignatureVerification {
		return 2
	}
	return 1
}

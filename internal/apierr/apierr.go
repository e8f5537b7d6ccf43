// Package apierr defines the error kinds shared by the chat server and client.
//
// Handlers return *Error values; callers branch on the kind with errors.Is
// against the sentinels or with KindOf.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy
	KindUnknown Kind = iota
	// KindValidation marks malformed or missing input
	KindValidation
	// KindNotFound marks a reference to a room, user or message that does not exist
	KindNotFound
	// KindForbidden marks an operation the caller is not allowed to perform
	KindForbidden
	// KindConflict marks a name or slot that is already taken
	KindConflict
	// KindCrypto marks malformed key material or a failed cipher operation
	KindCrypto
	// KindProtocol marks an unknown command or a broken frame
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindCrypto:
		return "crypto"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind with an empty
// message, which is how the sentinels below are shaped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrCrypto     = &Error{Kind: KindCrypto}
	ErrProtocol   = &Error{Kind: KindProtocol}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Forbidden returns a KindForbidden error.
func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

// Conflict returns a KindConflict error.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// Protocol returns a KindProtocol error.
func Protocol(format string, args ...any) *Error { return newf(KindProtocol, format, args...) }

// Crypto wraps err as a KindCrypto error.
func Crypto(message string, err error) *Error {
	return &Error{Kind: KindCrypto, Message: message, Err: err}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsUserFacing reports whether err should be reported back to the requesting
// user as a system message instead of being treated as a transport failure.
func IsUserFacing(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindForbidden, KindConflict:
		return true
	default:
		return false
	}
}

// MessageOf returns the message of an *Error, or err.Error() otherwise.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

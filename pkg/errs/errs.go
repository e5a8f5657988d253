// Package errs defines the error taxonomy shared by the client core.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by where it originated and whether it reached the network.
type Kind int

const (
	// TransportError is a network/HTTP failure, a non-2xx status or a malformed body.
	TransportError Kind = iota + 1
	// InvalidInput is a client-side validation failure. Never sent over the wire.
	InvalidInput
	// NotAuthenticated means the action requires an identity and none is present.
	NotAuthenticated
	// InvalidStoredKeys means the locally persisted identity was corrupt or partial.
	InvalidStoredKeys
	// NoPendingWork means mining was attempted with nothing to mine.
	NoPendingWork
	// MalformedPush means a server push event was missing required fields.
	MalformedPush
	// Rejected is a logical failure reported by the service ({success:false}).
	Rejected
)

func (k Kind) String() string {
	switch k {
	case TransportError:
		return "transport_error"
	case InvalidInput:
		return "invalid_input"
	case NotAuthenticated:
		return "not_authenticated"
	case InvalidStoredKeys:
		return "invalid_stored_keys"
	case NoPendingWork:
		return "no_pending_work"
	case MalformedPush:
		return "malformed_push"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error implements error so a bare Kind can be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is the normalized failure returned by every client operation.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "mine-block"
	Message string // user-facing text
	Err     error  // underlying cause, if any
}

// New creates an Error without an underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error around cause. The message defaults to the cause text.
func Wrap(kind Kind, op string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same Kind, or an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Message returns the user-facing message carried by err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package ddferrors defines the abstract error kinds of spec.md §7 and
// the propagation policy between the catalog/loader/compiler layer and
// the HTTP boundary.
package ddferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purpose of wire-status mapping.
type Kind int

const (
	// Internal is the zero value so a bare fmt.Errorf-wrapped error
	// defaults to a 500 rather than silently becoming some other kind.
	Internal Kind = iota
	QuerySyntax
	QuerySemantic
	SchemaValidation
	NotFound
	Unauthorized
	Busy
	Conflict
)

func (k Kind) String() string {
	switch k {
	case QuerySyntax:
		return "QuerySyntax"
	case QuerySemantic:
		return "QuerySemantic"
	case SchemaValidation:
		return "SchemaValidation"
	case NotFound:
		return "NotFound"
	case Unauthorized:
		return "Unauthorized"
	case Busy:
		return "Busy"
	case Conflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// Error wraps a cause with a Kind, preserving the cause's stack trace via
// github.com/pkg/errors so Internal failures can be logged in full while
// only a short sentence reaches the client.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Cause returns the innermost wrapped error, matching github.com/pkg/errors'
// convention so callers can still type-assert into the original error.
func (e *Error) Cause() error { return errors.Cause(e.cause) }

// New creates a Kind-tagged error from a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, cause: errors.New(message)}
}

// Newf creates a Kind-tagged error from a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, cause: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches a Kind and a message to an existing error, recording a
// stack trace at the call site.
func Wrap(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, message)}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that were never classified (e.g. a raw driver error).
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Internal
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

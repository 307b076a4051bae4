// Package apperr defines the stable error taxonomy shared by every layer of
// the governance service, and the caller-visible envelope it serializes to.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the stable, caller-visible error categories.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindNotFound      Kind = "NotFoundError"
	KindConflict      Kind = "ConflictError"
	KindInvalidState  Kind = "InvalidStateError"
	KindForbidden     Kind = "ForbiddenError"
	KindCompilation   Kind = "CompilationError"
	KindPublishing    Kind = "PublishingError"
	KindIntegrity     Kind = "IntegrityError"
	KindUnavailable   Kind = "UnavailableError"
)

// Error is the typed error carried through the system. It wraps an
// underlying cause (if any) and stable machine-readable details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind around an existing error.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches machine-readable detail fields and returns the
// receiver for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// NotFound builds a KindNotFound error for the given entity kind and id.
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %q not found", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// InvalidInput builds a KindValidation error scoped to a single field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: message,
		Details: map[string]any{"field": field},
	}
}

// Forbidden builds a KindForbidden error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// Conflict builds a KindConflict error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// InvalidState builds a KindInvalidState error.
func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

// As extracts an *Error from err via errors.As, for callers that need to
// inspect Kind/Details (e.g. transport adapters mapping to status codes).
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Envelope is the wire shape rendered for any caller-visible error surface.
type Envelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope renders err (ideally an *Error) into the caller-visible shape.
func ToEnvelope(err error) Envelope {
	if e, ok := As(err); ok {
		return Envelope{Error: string(e.Kind), Message: e.Message, Details: e.Details}
	}
	return Envelope{Error: string(KindUnavailable), Message: err.Error()}
}

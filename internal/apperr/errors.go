// Package apperr defines the error taxonomy shared by the storage, core and
// API layers. Every error that reaches the HTTP boundary is mapped to a status
// code through its Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found_error"
	KindConflict       Kind = "conflict_error"
	KindUpstream       Kind = "upstream_error"
	KindUpstreamFormat Kind = "upstream_format_error"
	KindStorage        Kind = "storage_error"
)

// Error is the typed error carried through the service.
type Error struct {
	Kind    Kind
	Message string
	// Details lists individual problems, e.g. every invalid request field.
	Details []string
	// Content echoes raw model output when it could not be parsed.
	Content string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code used when the error reaches a handler.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamFormat:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports missing or malformed input.
func Validation(message string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound reports an absent entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict reports a write that collides with an existing entity.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Upstream reports a hard failure of an external collaborator (model, pinning).
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// UpstreamFormat reports an external response that could not be interpreted.
// The raw content is kept so it can be echoed for debugging.
func UpstreamFormat(message, content string, err error) *Error {
	return &Error{Kind: KindUpstreamFormat, Message: message, Content: content, Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// CharacterNotFound is returned when no profile matches a name.
func CharacterNotFound(name string) *Error {
	return &Error{Kind: KindNotFound, Message: "Character not found", Details: []string{name}}
}

// ConversationNotFound is returned when a conversation id does not exist.
func ConversationNotFound(id int64) *Error {
	return &Error{Kind: KindNotFound, Message: "Conversation not found", Details: []string{fmt.Sprintf("conversation %d", id)}}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// StatusCode maps any error to an HTTP status; untyped errors are 500s.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

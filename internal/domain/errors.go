package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that cross component boundaries.
type ErrorKind string

const (
	// KindValidation: input rejected before any side effect.
	KindValidation ErrorKind = "validation"
	// KindStorage: a persistence operation failed; in-memory state is still valid.
	KindStorage ErrorKind = "storage"
	// KindAuthentication: the completion endpoint rejected the credential.
	KindAuthentication ErrorKind = "authentication"
	// KindTransport: the completion endpoint could not be reached.
	KindTransport ErrorKind = "transport"
	// KindCompletion: the completion endpoint answered with a failure.
	KindCompletion ErrorKind = "completion"
)

// Error is the typed error carried between the gateway, the completion client
// and the orchestrator. Message is safe to show to end users.
type Error struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "save_transcript"
	Message string
	Status  int // HTTP status reported by the completion endpoint, if any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError reports a rejected input field.
func NewValidationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Op: field, Message: msg}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "failed to save changes", Err: err}
}

// NewAuthenticationError reports a rejected completion credential.
func NewAuthenticationError(status int, msg string) *Error {
	return &Error{Kind: KindAuthentication, Op: "generate_reply", Status: status, Message: msg}
}

// NewTransportError wraps a network-level failure (no response received).
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Op: "generate_reply", Message: "completion endpoint unreachable", Err: err}
}

// NewCompletionError reports a non-success answer from the completion endpoint.
func NewCompletionError(status int, msg string, err error) *Error {
	return &Error{Kind: KindCompletion, Op: "generate_reply", Status: status, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool     { return KindOf(err) == KindValidation }
func IsStorage(err error) bool        { return KindOf(err) == KindStorage }
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
func IsTransport(err error) bool      { return KindOf(err) == KindTransport }

// IsCompletion reports completion failures, including the authentication
// subtype.
func IsCompletion(err error) bool {
	k := KindOf(err)
	return k == KindCompletion || k == KindAuthentication
}

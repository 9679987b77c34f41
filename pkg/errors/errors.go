// Package errors provides structured error types for the Tor client core.
// Errors carry a Kind so callers can decide whether to retry a path, tear
// down a circuit, or give up on a parse.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a core error.
type Kind string

const (
	// KindNeedConsensus indicates path construction was attempted without a
	// live directory.
	KindNeedConsensus Kind = "need-consensus"
	// KindNoRelays indicates no candidate relay satisfied the constraints.
	KindNoRelays Kind = "no-relays"
	// KindBadMessage indicates a wire parse failure (truncated or malformed).
	KindBadMessage Kind = "bad-message"
	// KindCircProto indicates a protocol violation on a live circuit.
	KindCircProto Kind = "circ-proto"
	// KindChannel indicates a failure in the channel layer.
	KindChannel Kind = "channel"
	// KindHandshake indicates a failure while running a circuit handshake.
	KindHandshake Kind = "handshake"
	// KindInternal indicates a programming error inside the core.
	KindInternal Kind = "internal"
)

// Error is the structured error type used throughout the core.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches errors by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NeedConsensus creates an error reporting that no usable consensus is
// available yet. Callers may retry once a directory has been fetched.
func NeedConsensus() *Error {
	return &Error{
		Kind:      KindNeedConsensus,
		Message:   "Consensus directory needed",
		Retryable: true,
	}
}

// NoRelays creates an error reporting that no relay satisfied the
// constraints of a selection.
func NoRelays(diag string) *Error {
	return &Error{
		Kind:      KindNoRelays,
		Message:   diag,
		Retryable: true,
	}
}

// BadMessage creates a wire parse error with a diagnostic string.
func BadMessage(diag string) *Error {
	return &Error{
		Kind:    KindBadMessage,
		Message: diag,
	}
}

// CircProto creates an error reporting a protocol violation on a live
// circuit or stream. The containing circuit must be torn down.
func CircProto(diag string) *Error {
	return &Error{
		Kind:    KindCircProto,
		Message: diag,
	}
}

// Channel wraps a failure from the channel layer.
func Channel(message string, err error) *Error {
	return &Error{
		Kind:       KindChannel,
		Message:    message,
		Underlying: err,
		Retryable:  true,
	}
}

// Handshake wraps a failure from a circuit handshake.
func Handshake(message string, err error) *Error {
	return &Error{
		Kind:       KindHandshake,
		Message:    message,
		Underlying: err,
	}
}

// Internal wraps a programming error inside the core.
func Internal(message string, err error) *Error {
	return &Error{
		Kind:       KindInternal,
		Message:    message,
		Underlying: err,
	}
}

// IsKind reports whether err is (or wraps) a core error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the kind of err, or KindInternal for foreign errors.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is safe to retry at the caller's
// discretion.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

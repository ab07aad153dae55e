// Package raerrors provides the error taxonomy shared across the raft core:
// invariant violations, bad configuration, storage I/O failures, and the
// benign case of a peer channel that has gone away.
package raerrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed so that callers can decide whether
// to crash, log and continue, or surface the failure to a client.
type Kind int

const (
	// Internal indicates a Raft invariant was violated. Should never happen
	// in a correct build; treated as fatal wherever it surfaces.
	Internal Kind = iota

	// Config indicates a caller supplied invalid startup parameters.
	Config

	// IO indicates the durable store failed. Fatal for the owning node; the
	// host process should crash-restart rather than continue on corrupted
	// state.
	IO

	// ChannelClosed indicates a peer's inbound channel is gone. Callers
	// should drop the in-flight send and continue; it is not fatal.
	ChannelClosed
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case Config:
		return "config"
	case IO:
		return "io"
	case ChannelClosed:
		return "channel_closed"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by this module. It always
// carries a Kind so that callers can branch on failure category without
// string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapErr(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// New creates an Internal error with the given message.
func New(message string) error {
	return newErr(Internal, message)
}

// NewConfig creates a Config error with the given message.
func NewConfig(message string) error {
	return newErr(Config, message)
}

// NewIO creates an IO error with the given message.
func NewIO(message string) error {
	return newErr(IO, message)
}

// NewChannelClosed creates a ChannelClosed error with the given message.
func NewChannelClosed(message string) error {
	return newErr(ChannelClosed, message)
}

// Wrap wraps cause as an Internal error, formatting message like fmt.Sprintf.
func Wrap(cause error, format string, args ...interface{}) error {
	return wrapErr(Internal, cause, fmt.Sprintf(format, args...))
}

// WrapConfig wraps cause as a Config error.
func WrapConfig(cause error, format string, args ...interface{}) error {
	return wrapErr(Config, cause, fmt.Sprintf(format, args...))
}

// WrapIO wraps cause as an IO error.
func WrapIO(cause error, format string, args ...interface{}) error {
	return wrapErr(IO, cause, fmt.Sprintf(format, args...))
}

// WrapChannelClosed wraps cause as a ChannelClosed error.
func WrapChannelClosed(cause error, format string, args ...interface{}) error {
	return wrapErr(ChannelClosed, cause, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Internal, false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

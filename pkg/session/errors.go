package session

import (
	"errors"
	"fmt"
)

// Kind categorizes pipeline errors.
type Kind string

const (
	// KindMicrophoneUnavailable means permission was denied or no input
	// device matched. Fatal to Open; never auto-retried.
	KindMicrophoneUnavailable Kind = "microphone_unavailable"
	// KindConnectionFailed means the remote session rejected the initial
	// handshake. Surfaced to the host; not auto-retried.
	KindConnectionFailed Kind = "connection_failed"
	// KindTransport means an open session died. Handled by the Supervisor.
	KindTransport Kind = "transport_error"
	// KindSynthesisFailed means one-shot speech synthesis failed. Non-fatal;
	// the greeting still signals done.
	KindSynthesisFailed Kind = "synthesis_failed"
	// KindProfileUpdate means the profile extractor failed. Non-fatal; the
	// profile is left unchanged.
	KindProfileUpdate Kind = "profile_update_failed"
)

// Error is the typed error surfaced by the voice pipeline.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error { return e.Err }

// NewMicrophoneUnavailable creates a microphone acquisition error.
func NewMicrophoneUnavailable(message string, err error) *Error {
	return &Error{Kind: KindMicrophoneUnavailable, Message: message, Err: err}
}

// NewConnectionFailed creates a handshake rejection error.
func NewConnectionFailed(message string, err error) *Error {
	return &Error{Kind: KindConnectionFailed, Message: message, Err: err}
}

// NewTransportError creates an open-session failure error.
func NewTransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// NewSynthesisFailed creates a one-shot synthesis error.
func NewSynthesisFailed(message string, err error) *Error {
	return &Error{Kind: KindSynthesisFailed, Message: message, Err: err}
}

// NewProfileUpdateFailed creates a profile extraction error.
func NewProfileUpdateFailed(message string, err error) *Error {
	return &Error{Kind: KindProfileUpdate, Message: message, Err: err}
}

// IsKind reports whether err is a pipeline *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

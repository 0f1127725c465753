// ABOUTME: Error taxonomy for the sync engine and its REST collaborator
// ABOUTME: Distinguishes auth, transport, protocol and application failures

package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrMissingField marks an inbound payload lacking a required field.
	ErrMissingField = errors.New("missing required field")
)

// Kind classifies an Error.
type Kind int

const (
	// KindUnknown is reported by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindAuth is a rejected or expired bearer token. Terminal.
	KindAuth
	// KindTransport is a dropped or unreachable connection. Retryable.
	KindTransport
	// KindProtocol is a malformed frame or payload. Logged and dropped.
	KindProtocol
	// KindApplication is a non-2xx response from the REST API.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error carries a Kind plus, for HTTP failures, the status code and the
// server-supplied message.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AuthError builds a KindAuth error.
func AuthError(message string, err error) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

// TransportError builds a KindTransport error.
func TransportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// ProtocolError builds a KindProtocol error.
func ProtocolError(message string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Err: err}
}

// ApplicationError builds a KindApplication error for a REST response.
func ApplicationError(status int, message string) *Error {
	return &Error{Kind: KindApplication, Status: status, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

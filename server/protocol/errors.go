package protocol

import (
	"errors"
	"fmt"
)

// Base sentinels, kept from the teacher's server/protocol/errors.go and
// extended with the rest of the outcomes spec.md §7 names. ErrIncomplete is
// not a failure at all — RequestParser returns it to mean "need more
// bytes" — but it shares the sentinel-error shape so callers can use the
// same errors.Is check throughout.
var (
	ErrIncomplete = errors.New("protocol: need more bytes")
	ErrInvalid    = errors.New("protocol: malformed request")

	ErrHeaderTooLarge     = errors.New("protocol: header section exceeds limit")
	ErrBodyTooLarge       = errors.New("protocol: body exceeds limit")
	ErrLengthRequired     = errors.New("protocol: content-length required")
	ErrUnsupportedVersion = errors.New("protocol: unsupported HTTP version")
	ErrMalformedLength    = errors.New("protocol: malformed content-length")
)

// ProtocolError wraps a framing-level sentinel with the HTTP status
// spec.md §4.7 says the connection must answer with before closing.
type ProtocolError struct {
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: status %d: %v", e.Status, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError builds a ProtocolError, the value CommTask matches on to
// decide both the response status and that the connection must close
// (spec.md: "protocol and transport errors terminate the connection").
func NewProtocolError(status int, err error) *ProtocolError {
	return &ProtocolError{Status: status, Err: err}
}

// TransportError models a socket I/O failure or peer reset (spec.md §7).
// It carries no status because the client never receives a wire response —
// the connection is simply closed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError models onTimeout closing a connection with no in-flight
// request, or a mid-response deadline exceeded past grace.
type TimeoutError struct {
	Reason string
}

func (e *TimeoutError) Error() string { return "timeout: " + e.Reason }

// HandlerError wraps a dispatcher-reported failure that must still produce
// a well-formed HTTP response (spec.md: "Handler errors are per-request;
// subsequent pipelined requests still proceed unless the handler marked
// close").
type HandlerError struct {
	Status int
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler: status %d: %v", e.Status, e.Err)
}
func (e *HandlerError) Unwrap() error { return e.Err }

// IsIncomplete reports whether err means "the parser needs more bytes",
// checked with errors.Is against the ErrIncomplete sentinel, in the helper
// style Mgrdich-myHttpServer's transport.go uses for isUnsupportedTEError.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

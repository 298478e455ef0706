package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")

	// ErrDisconnected resolves every pending request when the connection
	// leaves the ready state for any reason.
	ErrDisconnected = errors.New("connection closed")

	// ErrClosing is the ErrDisconnected variant used when the remote
	// announced its shutdown before the connection dropped.
	ErrClosing = fmt.Errorf("%w: remote is shutting down", ErrDisconnected)

	ErrAuthenticationRequired = errors.New("authentication required but no password configured")
	ErrAuthenticationFailed   = errors.New("authentication rejected by the remote")
	ErrVersionMismatch        = errors.New("unsupported protocol version")
	ErrDuplicateRequestID     = errors.New("duplicate request id")
)

// RequestError carries a non-ok status reported by the remote for a
// single request.
type RequestError struct {
	Code    int
	Comment string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("request failed with code %d", e.Code)
	}
	return fmt.Sprintf("request failed with code %d: %s", e.Code, e.Comment)
}

// HandshakeError wraps any failure during the connect-time exchange.
// Stage is one of "greeting", "identify", "ack" or "timeout".
type HandshakeError struct {
	Stage string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed during %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// DecodeError reports that a request succeeded at the protocol level but
// its response payload did not fit the requested type.
type DecodeError struct {
	RequestType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.RequestType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Package util provides common utilities for the Gemini to SAM proxy.
// This includes the error taxonomy shared by the SAM client, the session
// manager and the request handler.
package util

import (
	"errors"
	"fmt"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
)

// Sentinel errors for proxy operations.
var (
	// ErrHandshakeFailed indicates HELLO VERSION did not return RESULT=OK.
	// Fatal at startup.
	ErrHandshakeFailed = errors.New("SAM handshake failed")

	// ErrSessionCreateFailed indicates SESSION CREATE did not return RESULT=OK.
	// Fatal at startup.
	ErrSessionCreateFailed = errors.New("SAM session creation failed")

	// ErrStreamConnectFailed indicates STREAM CONNECT did not return RESULT=OK.
	ErrStreamConnectFailed = errors.New("stream connect failed")

	// ErrMalformedCommand indicates a SAM reply line could not be decoded.
	ErrMalformedCommand = protocol.ErrMalformedCommand

	// ErrUnexpectedReply indicates the reply verb did not match the command.
	ErrUnexpectedReply = errors.New("unexpected SAM reply")

	// ErrTLSFailure indicates the TLS layer over an overlay stream failed.
	ErrTLSFailure = errors.New("TLS failure")

	// ErrTransport indicates an I/O failure on a transport connection.
	ErrTransport = errors.New("transport I/O error")

	// ErrKeepaliveProbeFailed indicates a PING was not answered with the
	// matching PONG. Logged only; the session keeps running.
	ErrKeepaliveProbeFailed = errors.New("keepalive probe failed")

	// ErrClosed indicates the control connection has been closed.
	ErrClosed = errors.New("control connection closed")

	// ErrLookupFailed indicates NAMING LOOKUP did not return RESULT=OK.
	ErrLookupFailed = errors.New("naming lookup failed")

	// ErrCommandFailed indicates any other SAM command returned a
	// non-OK result.
	ErrCommandFailed = errors.New("SAM command failed")
)

// ProtocolError wraps a failed SAM reply with command context.
// Use this when the daemon answered but with a non-OK result.
type ProtocolError struct {
	Verb    string // The command verb (e.g., "SESSION", "STREAM")
	Action  string // The command action (e.g., "CREATE", "CONNECT")
	Result  string // RESULT= of the reply (may be empty)
	Message string // MESSAGE= of the reply (may be empty)
	Err     error  // The sentinel classifying the failure
}

// NewProtocolError creates a ProtocolError from a decoded reply.
func NewProtocolError(verb, action string, reply *protocol.Command, err error) *ProtocolError {
	pe := &ProtocolError{
		Verb:   verb,
		Action: action,
		Err:    err,
	}
	if reply != nil {
		pe.Result = reply.Result()
		pe.Message = reply.Get(protocol.ArgMessage)
	}
	return pe
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	cmd := e.Verb
	if e.Action != "" {
		cmd = e.Verb + " " + e.Action
	}

	result := e.Result
	if result == "" {
		result = "no result"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %v: %s: %s", cmd, e.Err, result, e.Message)
	}
	return fmt.Sprintf("%s: %v: %s", cmd, e.Err, result)
}

// Unwrap returns the underlying error for errors.Is and errors.As support.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError wraps an I/O error with connection context.
// errors.Is(err, ErrTransport) holds for every TransportError.
type TransportError struct {
	Addr      string // Remote address of the connection
	Operation string // The operation being performed (e.g., "dial", "read")
	Err       error  // The underlying error
}

// NewTransportError creates a new TransportError with context.
func NewTransportError(addr, operation string, err error) *TransportError {
	return &TransportError{
		Addr:      addr,
		Operation: operation,
		Err:       err,
	}
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Addr, e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsFatal returns true if the error must abort startup: the proxy cannot
// serve without a SAM session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrHandshakeFailed) || errors.Is(err, ErrSessionCreateFailed)
}

// IsRetryable returns true if the SAM result suggests the same request may
// succeed later (e.g. the destination's leaseset was not yet known).
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return errors.Is(err, ErrTransport)
	}
	switch pe.Result {
	case protocol.ResultTimeout, protocol.ResultCantReachPeer, protocol.ResultLeasesetNotFound:
		return true
	default:
		return false
	}
}

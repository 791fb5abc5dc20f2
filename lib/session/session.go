// Package session owns the proxy's single long-lived SAM STREAM session.
// The session is created once at startup on a dedicated control connection
// and kept alive by periodic PING probes on that same connection until
// process shutdown. Every per-request STREAM CONNECT references its ID.
package session

import "errors"

// Status represents the current state of the session.
type Status int

const (
	// StatusCreating indicates SESSION CREATE has not completed yet.
	StatusCreating Status = iota
	// StatusActive indicates the bridge accepted the session.
	StatusActive
	// StatusClosing indicates Close is in progress.
	StatusClosing
	// StatusClosed indicates the control connection has been closed.
	StatusClosed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCreating:
		return "CREATING"
	case StatusActive:
		return "ACTIVE"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotStarted is returned by Run before Start has succeeded.
	ErrNotStarted = errors.New("session not started")

	// ErrInvalidTunnelConfig indicates tunnel configuration is invalid.
	ErrInvalidTunnelConfig = errors.New("invalid tunnel configuration")
)

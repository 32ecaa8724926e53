package session

import "errors"

// Sentinel errors surfaced by Session operations.
var (
	// ErrConnectionLost is returned when the peer closes the socket or an
	// I/O error occurs mid-exchange. The session transitions to Closed.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrClosed is returned by any operation attempted after the session
	// has transitioned to Closed.
	ErrClosed = errors.New("session: already closed")

	// ErrInvalidState is returned when starting a keep-alive worker that
	// is already running.
	ErrInvalidState = errors.New("session: invalid state")
)

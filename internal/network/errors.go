package network

import "errors"

var (
	// ErrConnectionClosed is returned when the peer closed the stream and no
	// bytes were buffered.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTimeout is returned by ReadUntil when the marker never arrived.
	ErrTimeout = errors.New("timed out waiting for marker")
)

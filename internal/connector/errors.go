package connector

import "errors"

var (
	// ErrNotConnected is returned by operations that need a live chat session.
	ErrNotConnected = errors.New("not connected to chat")

	// ErrNoTemplate means no self presence was captured during the handshake,
	// so there is nothing to forge from. Reconnect while the game is running.
	ErrNoTemplate = errors.New("no captured presence template")

	ErrAuthFailed    = errors.New("chat authentication failed")
	ErrBindFailed    = errors.New("resource bind returned no jid")
	ErrMissingField  = errors.New("missing field")
	ErrInvalidToken  = errors.New("invalid routing token")
	ErrNoCredentials = errors.New("no credentials available")

	// ErrClientNotRunning is returned when the lockfile points at a dead process.
	ErrClientNotRunning = errors.New("game client is not running")
)

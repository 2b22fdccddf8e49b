package session

import "errors"

var (
	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidState is returned for lifecycle calls that are not
	// legal in the session's current state, such as stopping a session
	// that never started. The session is left unmodified.
	ErrInvalidState = errors.New("invalid session state")
)

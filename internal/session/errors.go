package session

import "errors"

// Sentinel errors classified at the HTTP boundary via errors.Is, following
// the teacher's internal/api/errors.go switch-on-errors.Is pattern.
var (
	// ErrNotFound is returned when a session key has no record in the
	// MetaStore.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidState is returned when a state-machine transition is
	// attempted from a status that doesn't allow it (spec.md invariant 2).
	ErrInvalidState = errors.New("session: invalid state transition")

	// ErrInvalidRequest covers malformed session-creation input: an
	// unsupported compiler or a malformed conversion spec.
	ErrInvalidRequest = errors.New("session: invalid request")
)

package session

import "errors"

// Typed failures returned to callers. Persistence and generation
// degradation are absorbed internally and never surface as errors,
// with one exception: a failed base-reply generation, for which there
// is no fallback.
var (
	// ErrNotFound is returned for an unknown session id with no
	// recoverable snapshot.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when the supplied owner does not
	// match the session's owner.
	ErrUnauthorized = errors.New("session owner mismatch")

	// ErrCapacityExceeded is returned when creating a session would
	// exceed the per-user active-session cap.
	ErrCapacityExceeded = errors.New("active session limit reached for user")

	// ErrUpstream is returned when even the base-reply generation
	// path fails and no reply can be produced.
	ErrUpstream = errors.New("generation upstream unavailable")

	// ErrStoreClosed is returned when operating on a closed snapshot
	// store.
	ErrStoreClosed = errors.New("snapshot store is closed")
)

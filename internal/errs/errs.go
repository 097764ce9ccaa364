// Package errs holds the error kinds shared by the tracker, channel and peer services.
package errs

import "errors"

var (
	// ErrNotFound: the channel, peer or request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: duplicate create or an already-resolved request.
	ErrConflict = errors.New("conflict")
	// ErrNotConnected: relay or broadcast target has no connected relationship.
	ErrNotConnected = errors.New("not connected")
	// ErrUnavailable: registry, store or remote peer transiently unreachable.
	// Callers may retry on the next poll.
	ErrUnavailable = errors.New("unavailable")
	// ErrInvalid: malformed input.
	ErrInvalid = errors.New("invalid argument")
)

// Kind returns the short wire name of the error kind wrapped by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotConnected):
		return "not-connected"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the operation later.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

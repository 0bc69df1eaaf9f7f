package follower

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey marks a match key rejected before any I/O: empty after
	// normalization, too long, or not alphanumeric.
	ErrInvalidKey = errors.New("invalid match key")

	// ErrMatchNotFound marks a lookup that succeeded but matched no record.
	// The viewer should check their key; retrying will not help.
	ErrMatchNotFound = errors.New("match not found")

	// ErrSuperseded marks an async result discarded because a newer follow or
	// unfollow raced it. Callers treat it like a cancellation.
	ErrSuperseded = errors.New("follow attempt superseded")
)

// TransientError wraps a transport-level failure of the lookup or the feed
// subscription. Retryable, surfaced with a retry affordance, never retried
// silently by the resolve path itself.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable transport failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

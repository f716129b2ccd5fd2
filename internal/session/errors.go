package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTraversal is returned when a removal target resolves outside the
	// storage root. It aborts only the offending call.
	ErrTraversal = errors.New("target path escapes storage root")

	// ErrInvalidSessionID is returned for ids outside the safe charset.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// InitError wraps a failed external-client initialization. No registry
// state is retained when it is returned.
type InitError struct {
	ID  string
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session %s: initialization failed: %v", e.ID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

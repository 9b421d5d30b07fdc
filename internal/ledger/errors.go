package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrStore matches any *StoreError.
	ErrStore = errors.New("store operation failed")
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a status change would not move forward.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// StoreError reports a failed persistence operation.
type StoreError struct {
	Err error
	Op  string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// NotFoundError reports a reference to a session that does not exist.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func storeError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

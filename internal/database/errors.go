package database

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no record has the requested ID.
	ErrNotFound = errors.New("record not found")

	// ErrLayoutMismatch is returned when a store holds descriptors of a different layout.
	ErrLayoutMismatch = errors.New("descriptor layout mismatch")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrInvalidOwner is returned for an empty owner identity.
	ErrInvalidOwner = errors.New("invalid owner id")
)

// StoreError wraps a backend failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStoreError returns err wrapped as a *StoreError for op. It returns nil for a
// nil err and leaves errors that already are a *StoreError untouched.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

package material

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once the store loop has stopped.
	ErrClosed = errors.New("material store is closed")
	// ErrBusy is returned when the loop does not pick up a command in time.
	ErrBusy = errors.New("material store is busy")

	// ErrInvalidName rejects items without a display name.
	ErrInvalidName = errors.New("material name is required")
	// ErrInvalidPrice rejects items whose price is not greater than zero.
	ErrInvalidPrice = errors.New("price must be greater than zero")
)

// ReadError reports persisted data that exists but cannot be decoded into a collection.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read persisted collection %q: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed write of the collection to the key-value backend.
// It is never fatal: the in-memory collection stays authoritative.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write persisted collection %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

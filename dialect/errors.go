package dialect

import (
	"errors"
	"fmt"
)

var (
	// ErrOptimisticLock is returned when a record changed since it was read.
	ErrOptimisticLock = errors.New("lattice: record was modified concurrently")

	// ErrTupleAlreadyExists is returned when inserting a record whose key is taken.
	ErrTupleAlreadyExists = errors.New("lattice: tuple already exists")

	// ErrConnection is returned when the backend cannot be reached or fails.
	ErrConnection = errors.New("lattice: backend connection failure")

	// ErrNotSupported is returned when a dialect lacks a requested capability.
	ErrNotSupported = errors.New("lattice: operation not supported by dialect")

	// ErrInvalidConfiguration is returned by setup validation.
	ErrInvalidConfiguration = errors.New("lattice: invalid configuration")

	// ErrQueueClosed is returned when adding to or polling a closed queue.
	ErrQueueClosed = errors.New("lattice: operations queue is closed")
)

// Error decorates a failure with the operation and the key involved.
type Error struct {
	Op  string
	Key string
	Err error
}

// NewError wraps err. It returns nil when err is nil.
func NewError(op string, key fmt.Stringer, err error) error {
	if err == nil {
		return nil
	}
	k := ""
	if key != nil {
		k = key.String()
	}
	return &Error{Op: op, Key: k, Err: err}
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Connection marks err as a backend connectivity failure.
func Connection(err error) error {
	if err == nil || errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// IsOptimisticLock reports whether err is a concurrent-modification conflict.
func IsOptimisticLock(err error) bool { return errors.Is(err, ErrOptimisticLock) }

// IsConnection reports whether err is a backend connectivity failure.
func IsConnection(err error) bool { return errors.Is(err, ErrConnection) }

// IsNotSupported reports whether err is a missing capability.
func IsNotSupported(err error) bool { return errors.Is(err, ErrNotSupported) }

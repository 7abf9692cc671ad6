package rb

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when an operation receives an argument
	// it cannot work with (nil buffer, zero capacity, negative timeout).
	ErrInvalidArgument = errors.New("ring buffer: invalid argument")

	// ErrNotInitialized is returned when the buffer is used before Init
	// or after Destroy.
	ErrNotInitialized = fmt.Errorf("%w: buffer is not initialized", ErrInvalidArgument)

	// ErrAlreadyInitialized is returned when Init is called on a live buffer.
	ErrAlreadyInitialized = fmt.Errorf("%w: buffer is already initialized", ErrInvalidArgument)

	errEmptyDestination = fmt.Errorf("%w: empty destination slice", ErrInvalidArgument)

	// ErrOutOfMemory is returned when the backing store cannot be allocated.
	ErrOutOfMemory = errors.New("ring buffer: out of memory")

	// ErrClosed is returned when the buffer is closed.
	ErrClosed = errors.New("ring buffer: buffer is closed")

	// ErrEmpty is returned by TryRead when there is nothing to read.
	ErrEmpty = errors.New("ring buffer: buffer is empty")
)

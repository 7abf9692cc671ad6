package connector

import (
	"github.com/FerroO2000/bytering/internal/rb"
)

var _ Connector = (*RingBuffer)(nil)

// Errors returned by the ring buffer.
var (
	ErrInvalidArgument    = rb.ErrInvalidArgument
	ErrNotInitialized     = rb.ErrNotInitialized
	ErrAlreadyInitialized = rb.ErrAlreadyInitialized
	ErrOutOfMemory        = rb.ErrOutOfMemory
	ErrClosed             = rb.ErrClosed
	ErrEmpty              = rb.ErrEmpty
)

// MaxCapacity is the largest capacity a ring buffer can be initialized with.
const MaxCapacity = rb.MaxCapacity

// RingBuffer is a bounded, thread-safe circular byte buffer
// with a non-blocking write and blocking reads.
type RingBuffer = rb.RingBuffer

// Stats is a snapshot of the counters of a ring buffer.
type Stats = rb.Stats

// New returns a new ring buffer that must be initialized with Init.
func New() *RingBuffer {
	return rb.New()
}

// NewRingBuffer returns a new ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	return rb.NewRingBuffer(capacity)
}

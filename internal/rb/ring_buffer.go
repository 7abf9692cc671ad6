// Package rb provides a bounded, thread-safe circular byte buffer.
package rb

import (
	"fmt"
	"sync"
	"time"
)

// MaxCapacity is the largest capacity accepted by Init.
const MaxCapacity = 1 << 30

// RingBuffer is a fixed-capacity FIFO byte queue shared by any number
// of writers and readers.
//
// Writes never block: when the buffer does not have room for the whole
// input, only the bytes that fit are stored and the caller is told how many.
// Reads come in three flavors: TryRead fails immediately on an empty buffer,
// Read waits for data without any time bound and ReadWithTimeout waits at
// most for the given duration.
//
// A buffer returned by New must be initialized with Init before use.
type RingBuffer struct {
	mux *sync.Mutex

	// notEmpty is broadcast whenever count increases,
	// notFull whenever it decreases.
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buffer   []byte
	capacity int

	// head is the index of the next byte to read,
	// tail the index of the next byte to write.
	head int
	tail int

	// count is the number of unread bytes.
	count int

	isInitialized bool
	isClosed      bool

	// epoch is incremented by Destroy, waiters use it to detect
	// that the buffer they were parked on is gone.
	epoch uint64

	counters counters
}

// New returns a new uninitialized ring buffer.
func New() *RingBuffer {
	mux := &sync.Mutex{}

	return &RingBuffer{
		mux:      mux,
		notEmpty: sync.NewCond(mux),
		notFull:  sync.NewCond(mux),
	}
}

// NewRingBuffer returns a new ring buffer initialized with the given capacity.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	rb := New()
	if err := rb.Init(capacity); err != nil {
		return nil, err
	}
	return rb, nil
}

// Init allocates the backing store of the buffer and resets its state.
// It must not be called twice without a Destroy in between.
func (rb *RingBuffer) Init(capacity int) error {
	if rb == nil || rb.mux == nil {
		return ErrInvalidArgument
	}

	if capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidArgument, capacity)
	}

	if capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d exceeds %d bytes", ErrOutOfMemory, capacity, MaxCapacity)
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if rb.isInitialized {
		return ErrAlreadyInitialized
	}

	// MaxCapacity is the only out of memory condition that can be reported,
	// a failed allocation below it is fatal for the runtime.
	rb.buffer = make([]byte, capacity)
	rb.capacity = capacity

	rb.head = 0
	rb.tail = 0
	rb.count = 0

	rb.isClosed = false
	rb.isInitialized = true

	rb.counters.reset()

	return nil
}

// usable checks that the buffer can be operated on.
// It must be called with the lock held.
func (rb *RingBuffer) usable() error {
	if !rb.isInitialized {
		return ErrNotInitialized
	}
	return nil
}

// Write copies as many bytes of data as fit in the free space of the buffer
// and returns how many were copied. It never blocks.
//
// A short count is not an error: callers that need every byte stored must
// compare the result with len(data) and retry on their own schedule.
func (rb *RingBuffer) Write(data []byte) (int, error) {
	if rb == nil || rb.mux == nil {
		return 0, ErrInvalidArgument
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if err := rb.usable(); err != nil {
		return 0, err
	}

	if rb.isClosed {
		return 0, ErrClosed
	}

	if len(data) == 0 {
		return 0, nil
	}

	n := rb.push(data)
	rb.counters.onWrite(len(data), n)

	if n > 0 {
		rb.notEmpty.Broadcast()
	}

	return n, nil
}

// TryRead reads up to len(p) bytes without waiting.
// It returns ErrEmpty if there is nothing to read.
// An empty p is rejected with ErrInvalidArgument, as by the other reads.
func (rb *RingBuffer) TryRead(p []byte) (int, error) {
	if rb == nil || rb.mux == nil {
		return 0, ErrInvalidArgument
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if err := rb.usable(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, errEmptyDestination
	}

	if rb.count == 0 {
		if rb.isClosed {
			return 0, ErrClosed
		}
		return 0, ErrEmpty
	}

	return rb.read(p), nil
}

// Read reads up to len(p) bytes, waiting as long as needed
// for at least one byte to be available. On success the returned count
// is always positive.
//
// Read cannot be canceled: the only way to release a goroutine parked
// in it, other than writing to the buffer, is Close or Destroy,
// in which case ErrClosed is returned.
func (rb *RingBuffer) Read(p []byte) (int, error) {
	if rb == nil || rb.mux == nil {
		return 0, ErrInvalidArgument
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if err := rb.usable(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, errEmptyDestination
	}

	if _, err := rb.wait(rb.notEmpty, rb.hasData, time.Time{}); err != nil {
		return 0, err
	}

	return rb.read(p), nil
}

// ReadWithTimeout reads up to len(p) bytes, waiting at most timeout
// (measured from the call) for at least one byte to be available.
//
// When the timeout elapses without data it returns 0 and a nil error,
// so an empty p is rejected with ErrInvalidArgument to keep that result unambiguous.
// A zero timeout polls the buffer once.
func (rb *RingBuffer) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	if rb == nil || rb.mux == nil {
		return 0, ErrInvalidArgument
	}

	if timeout < 0 {
		return 0, fmt.Errorf("%w: negative timeout %s", ErrInvalidArgument, timeout)
	}

	deadline := time.Now().Add(timeout)

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if err := rb.usable(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, errEmptyDestination
	}

	timedOut, err := rb.wait(rb.notEmpty, rb.hasData, deadline)
	if err != nil {
		return 0, err
	}

	if timedOut {
		rb.counters.onReadTimeout()
		return 0, nil
	}

	return rb.read(p), nil
}

// WaitFree waits at most timeout for the buffer to have at least n free bytes
// and returns the free space observed when it stops waiting.
// Like ReadWithTimeout, running out of time is not an error.
func (rb *RingBuffer) WaitFree(n int, timeout time.Duration) (int, error) {
	if rb == nil || rb.mux == nil {
		return 0, ErrInvalidArgument
	}

	if timeout < 0 {
		return 0, fmt.Errorf("%w: negative timeout %s", ErrInvalidArgument, timeout)
	}

	deadline := time.Now().Add(timeout)

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if err := rb.usable(); err != nil {
		return 0, err
	}

	if n > rb.capacity {
		return 0, fmt.Errorf("%w: %d bytes can never be free in a buffer of %d", ErrInvalidArgument, n, rb.capacity)
	}

	hasRoom := func() bool { return rb.capacity-rb.count >= n }

	if _, err := rb.wait(rb.notFull, hasRoom, deadline); err != nil {
		return 0, err
	}

	return rb.capacity - rb.count, nil
}

func (rb *RingBuffer) hasData() bool {
	return rb.count > 0
}

// wait parks the caller on cond until ready returns true.
// A zero deadline waits forever, otherwise timedOut is reported once
// the deadline has passed. The buffer being closed (or destroyed) while
// not ready results in ErrClosed.
//
// It must be called with the lock held.
func (rb *RingBuffer) wait(cond *sync.Cond, ready func() bool, deadline time.Time) (timedOut bool, err error) {
	epoch := rb.epoch
	hasDeadline := !deadline.IsZero()

	// expired is only accessed with the lock held
	expired := false
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for !ready() {
		if rb.isClosed || rb.epoch != epoch {
			return false, ErrClosed
		}

		if hasDeadline {
			remaining := time.Until(deadline)
			if expired || remaining <= 0 {
				return true, nil
			}

			// The timer is armed once for the whole budget,
			// spurious wake-ups just loop back here.
			if timer == nil {
				timer = time.AfterFunc(remaining, func() {
					rb.mux.Lock()
					expired = true
					cond.Broadcast()
					rb.mux.Unlock()
				})
			}
		}

		cond.Wait()
	}

	return false, nil
}

// push stores as many bytes of data as fit and returns how many.
// It must be called with the lock held.
func (rb *RingBuffer) push(data []byte) int {
	n := min(len(data), rb.capacity-rb.count)
	if n == 0 {
		return 0
	}

	// Fill up to the end of the backing store, then wrap around
	first := copy(rb.buffer[rb.tail:], data[:n])
	copy(rb.buffer, data[first:n])

	rb.tail = (rb.tail + n) % rb.capacity
	rb.count += n

	rb.checkInvariants()

	return n
}

// pop moves up to len(p) unread bytes into p and returns how many.
// It must be called with the lock held.
func (rb *RingBuffer) pop(p []byte) int {
	n := min(len(p), rb.count)
	if n == 0 {
		return 0
	}

	first := copy(p[:n], rb.buffer[rb.head:])
	copy(p[first:n], rb.buffer[:n-first])

	rb.head = (rb.head + n) % rb.capacity
	rb.count -= n

	rb.checkInvariants()

	return n
}

// read is the common tail of the read operations.
// It must be called with the lock held and count > 0.
func (rb *RingBuffer) read(p []byte) int {
	n := rb.pop(p)
	rb.counters.onRead(n)

	rb.notFull.Broadcast()

	return n
}

func (rb *RingBuffer) checkInvariants() {
	if rb.count < 0 || rb.count > rb.capacity ||
		rb.head < 0 || rb.head >= rb.capacity ||
		(rb.head+rb.count)%rb.capacity != rb.tail {

		panic(fmt.Sprintf("ring buffer: corrupted state: capacity=%d head=%d tail=%d count=%d",
			rb.capacity, rb.head, rb.tail, rb.count))
	}
}

// Len returns the number of unread bytes.
func (rb *RingBuffer) Len() int {
	if rb == nil || rb.mux == nil {
		return 0
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	if rb == nil || rb.mux == nil {
		return 0
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	return rb.capacity
}

// Free returns the number of bytes that can be written without truncation.
func (rb *RingBuffer) Free() int {
	if rb == nil || rb.mux == nil {
		return 0
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	return rb.capacity - rb.count
}

// IsClosed states whether the buffer is closed.
func (rb *RingBuffer) IsClosed() bool {
	if rb == nil || rb.mux == nil {
		return false
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	return rb.isClosed
}

// Stats returns the cumulative counters of the buffer since the last Init.
func (rb *RingBuffer) Stats() Stats {
	if rb == nil {
		return Stats{}
	}
	return rb.counters.snapshot()
}

// Close closes the buffer. Writes fail from now on, reads return
// the bytes still stored and then fail. Every goroutine waiting
// in a read is woken up.
func (rb *RingBuffer) Close() {
	if rb == nil || rb.mux == nil {
		return
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if !rb.isInitialized || rb.isClosed {
		return
	}

	rb.isClosed = true

	rb.notEmpty.Broadcast()
	rb.notFull.Broadcast()
}

// Destroy closes the buffer and releases its backing store.
// The buffer goes back to the uninitialized state.
//
// Goroutines parked in a read are woken up with ErrClosed,
// no other goroutine may be using the buffer.
func (rb *RingBuffer) Destroy() {
	if rb == nil || rb.mux == nil {
		return
	}

	rb.mux.Lock()
	defer rb.mux.Unlock()

	if !rb.isInitialized {
		return
	}

	rb.isClosed = true
	rb.isInitialized = false
	rb.epoch++

	rb.buffer = nil
	rb.capacity = 0
	rb.head = 0
	rb.tail = 0
	rb.count = 0

	rb.notEmpty.Broadcast()
	rb.notFull.Broadcast()
}

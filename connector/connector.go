// Package connector exposes the byte ring buffer shared by the producer
// and consumer stages of a pipeline.
package connector

import "time"

// Connector is the interface through which stages exchange raw bytes.
type Connector interface {
	// Write stores as many bytes of data as fit, without blocking,
	// and returns how many were stored.
	Write(data []byte) (int, error)
	// TryRead reads without waiting, ErrEmpty is returned if there is no data.
	TryRead(p []byte) (int, error)
	// Read reads waiting for data as long as needed.
	Read(p []byte) (int, error)
	// ReadWithTimeout reads waiting for data at most timeout,
	// it returns 0 and no error when the timeout elapses.
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	// WaitFree waits at most timeout for n bytes of free space
	// and returns the free space observed.
	WaitFree(n int, timeout time.Duration) (int, error)
	// Close closes the connector, waking up all the waiting readers.
	Close()
}

package rb

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Stats is a snapshot of the cumulative counters of a buffer.
type Stats struct {
	// BytesWritten is the number of bytes accepted by Write.
	BytesWritten uint64
	// BytesRead is the number of bytes returned by the read operations.
	BytesRead uint64
	// BytesDropped is the number of bytes passed to Write
	// that did not fit in the buffer.
	BytesDropped uint64
	// ShortWrites is the number of Write calls that stored
	// fewer bytes than requested.
	ShortWrites uint64
	// ReadTimeouts is the number of ReadWithTimeout calls
	// that returned without data.
	ReadTimeouts uint64
}

// counters are updated under the buffer lock but loaded without it,
// so that metric exporters never contend with readers and writers.
type counters struct {
	bytesWritten atomic.Uint64
	bytesDropped atomic.Uint64
	shortWrites  atomic.Uint64

	_ cpu.CacheLinePad

	bytesRead    atomic.Uint64
	readTimeouts atomic.Uint64

	_ cpu.CacheLinePad
}

func (c *counters) onWrite(requested, written int) {
	c.bytesWritten.Add(uint64(written))

	if dropped := requested - written; dropped > 0 {
		c.bytesDropped.Add(uint64(dropped))
		c.shortWrites.Add(1)
	}
}

func (c *counters) onRead(n int) {
	c.bytesRead.Add(uint64(n))
}

func (c *counters) onReadTimeout() {
	c.readTimeouts.Add(1)
}

func (c *counters) reset() {
	c.bytesWritten.Store(0)
	c.bytesDropped.Store(0)
	c.shortWrites.Store(0)
	c.bytesRead.Store(0)
	c.readTimeouts.Store(0)
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesWritten: c.bytesWritten.Load(),
		BytesRead:    c.bytesRead.Load(),
		BytesDropped: c.bytesDropped.Load(),
		ShortWrites:  c.shortWrites.Load(),
		ReadTimeouts: c.readTimeouts.Load(),
	}
}

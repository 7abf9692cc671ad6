package egress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/FerroO2000/bytering/internal"
)

var _ Sink = (*HexSink)(nil)

// HexSink is a sink that prints every chunk as a timestamped hex dump:
//
//	[1700000000000] read data from ring buffer. data[len: 3]: 0x01 0x02 0x03
//
// In timeout mode the line reads "read data from ring buffer success."
// instead, since a timed read may also end without data.
type HexSink struct {
	sinkBase

	mux *sync.Mutex
	out io.Writer

	header string

	now func() time.Time
}

// NewHexSink returns a new hex sink writing to out the chunks
// read in the given mode. If out is nil, the standard output is used.
func NewHexSink(out io.Writer, readMode ReadMode) *HexSink {
	if out == nil {
		out = os.Stdout
	}

	header := "read data from ring buffer."
	if readMode == ReadModeTimeout {
		header = "read data from ring buffer success."
	}

	return &HexSink{
		mux: &sync.Mutex{},
		out: out,

		header: header,

		now: time.Now,
	}
}

// Name returns the name of the sink.
func (hs *HexSink) Name() string { return "hex" }

// Init does nothing.
func (hs *HexSink) Init(_ context.Context) error { return nil }

// Deliver prints the chunk.
func (hs *HexSink) Deliver(_ context.Context, chunk []byte) error {
	hs.mux.Lock()
	defer hs.mux.Unlock()

	_, err := fmt.Fprintf(hs.out, "[%d] %s data[len: %d]: %s\n\n",
		hs.now().UnixMilli(), hs.header, len(chunk), internal.FormatHex(chunk))

	return err
}

// Close does nothing, the writer is owned by the caller.
func (hs *HexSink) Close(_ context.Context) error { return nil }

package egress

import (
	"bufio"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the file sink configuration.
const (
	DefaultFileSinkConfigPath                     = "ring.out"
	DefaultFileSinkConfigBufferSize               = 4096
	DefaultFileSinkConfigFlushThresholdPercentage = 0.75
	DefaultFileSinkConfigFlushDeadline            = time.Second
)

// FileSinkConfig structs contains the configuration for the file sink.
type FileSinkConfig struct {
	// Path is the path to the file, it is opened in append mode.
	//
	// Default: ring.out
	Path string

	// BufferSize is the size of the buffer used to write chunks to the file.
	//
	// Default: 4096
	BufferSize int

	// FlushThresholdPercentage is the percentage of the buffer size that triggers a flush.
	//
	// Default: 0.75
	FlushThresholdPercentage float64

	// FlushDeadline is the maximum time to wait before flushing the buffer.
	//
	// Default: 1s
	FlushDeadline time.Duration
}

// NewFileSinkConfig returns the default configuration for the file sink.
func NewFileSinkConfig(path string) *FileSinkConfig {
	return &FileSinkConfig{
		Path:                     path,
		BufferSize:               DefaultFileSinkConfigBufferSize,
		FlushThresholdPercentage: DefaultFileSinkConfigFlushThresholdPercentage,
		FlushDeadline:            DefaultFileSinkConfigFlushDeadline,
	}
}

// Validate checks the configuration.
func (c *FileSinkConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Path", &c.Path, DefaultFileSinkConfigPath)
	config.CheckPositive(ac, "BufferSize", &c.BufferSize, DefaultFileSinkConfigBufferSize)
	config.CheckInRange(ac, "FlushThresholdPercentage", &c.FlushThresholdPercentage,
		0, 1, DefaultFileSinkConfigFlushThresholdPercentage)
	config.CheckPositive(ac, "FlushDeadline", &c.FlushDeadline, DefaultFileSinkConfigFlushDeadline)
}

////////////
//  SINK  //
////////////

var _ Sink = (*FileSink)(nil)

// FileSink is a sink that appends every chunk to a file.
// Writes are buffered, the buffer is flushed when it is filled
// over the threshold and at least every flush deadline.
type FileSink struct {
	sinkBase

	cfg *FileSinkConfig

	file   *os.File
	writer *bufio.Writer

	mux              *sync.Mutex
	notFlushedBytes  int64
	bufSizeThreshold int64

	ticker   *time.Ticker
	stopCh   chan struct{}
	tickerWg *sync.WaitGroup

	// Metrics
	writtenBytes atomic.Int64
	writeErrors  atomic.Int64
	flushErrors  atomic.Int64
}

// NewFileSink returns a new file sink.
func NewFileSink(cfg *FileSinkConfig) *FileSink {
	return &FileSink{
		cfg: cfg,

		mux: &sync.Mutex{},

		stopCh:   make(chan struct{}),
		tickerWg: &sync.WaitGroup{},
	}
}

// Name returns the name of the sink.
func (fs *FileSink) Name() string { return "file" }

// Init opens the file and starts the periodic flush.
func (fs *FileSink) Init(_ context.Context) error {
	fs.validate(fs.cfg)

	// Open the file as append only
	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	fs.file = file
	fs.writer = bufio.NewWriterSize(file, fs.cfg.BufferSize)

	// Set the threshold for flushing the buffer
	fs.bufSizeThreshold = int64(float64(fs.cfg.BufferSize) * fs.cfg.FlushThresholdPercentage)

	fs.tel.NewCounter("written_bytes", func() int64 { return fs.writtenBytes.Load() })
	fs.tel.NewCounter("write_errors", func() int64 { return fs.writeErrors.Load() })
	fs.tel.NewCounter("flush_errors", func() int64 { return fs.flushErrors.Load() })

	fs.ticker = time.NewTicker(fs.cfg.FlushDeadline)

	fs.tickerWg.Add(1)
	go fs.runTicker()

	return nil
}

func (fs *FileSink) runTicker() {
	defer fs.tickerWg.Done()
	defer fs.ticker.Stop()

	for {
		select {
		case <-fs.stopCh:
			return

		case <-fs.ticker.C:
			fs.mux.Lock()
			if err := fs.flush(); err != nil {
				fs.tel.LogError("periodic flush failed", err, "path", fs.cfg.Path)
			}
			fs.mux.Unlock()
		}
	}
}

// Deliver appends the chunk to the file.
func (fs *FileSink) Deliver(ctx context.Context, chunk []byte) error {
	_, span := fs.tel.NewTrace(ctx, "write file")
	defer span.End()

	fs.mux.Lock()
	defer fs.mux.Unlock()

	n, err := fs.writer.Write(chunk)
	if err != nil {
		fs.writeErrors.Add(1)
		return err
	}

	writtenBytes := int64(n)
	fs.notFlushedBytes += writtenBytes
	fs.writtenBytes.Add(writtenBytes)

	span.SetAttributes(attribute.Int64("chunk_size", writtenBytes))

	// Check whether to flush the writer
	if fs.notFlushedBytes >= fs.bufSizeThreshold {
		return fs.flush()
	}

	return nil
}

// flush must be called with the lock held.
func (fs *FileSink) flush() error {
	if fs.notFlushedBytes == 0 {
		return nil
	}

	if err := fs.writer.Flush(); err != nil {
		fs.flushErrors.Add(1)
		return err
	}

	fs.notFlushedBytes = 0

	return nil
}

// Close flushes the pending bytes and closes the file.
func (fs *FileSink) Close(_ context.Context) error {
	if fs.file == nil {
		return nil
	}

	close(fs.stopCh)
	fs.tickerWg.Wait()

	fs.mux.Lock()
	defer fs.mux.Unlock()

	errs := []error{fs.flush()}

	// Sync and close the file
	errs = append(errs, fs.file.Sync())
	errs = append(errs, fs.file.Close())

	fs.file = nil

	return errors.Join(errs...)
}

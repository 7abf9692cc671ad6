package egress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/connector"
	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
)

// ErrUnknownReadMode is returned by ParseReadMode.
var ErrUnknownReadMode = errors.New("unknown read mode")

// ReadMode selects how a consumer stage waits for data.
type ReadMode string

const (
	// ReadModeBlocking waits for data as long as needed.
	ReadModeBlocking ReadMode = "blocking"
	// ReadModeTimeout waits for data at most the read timeout.
	ReadModeTimeout ReadMode = "timeout"
)

// ParseReadMode parses a read mode. Besides the full names,
// "b" stands for blocking and "n" (non-blocking) for timeout.
func ParseReadMode(s string) (ReadMode, error) {
	switch strings.ToLower(s) {
	case "b", string(ReadModeBlocking):
		return ReadModeBlocking, nil
	case "n", string(ReadModeTimeout):
		return ReadModeTimeout, nil
	default:
		return "", fmt.Errorf("%w: %q, use 'b' or 'n'", ErrUnknownReadMode, s)
	}
}

//////////////
//  CONFIG  //
//////////////

// Default values for the consumer stage configuration.
const (
	DefaultConsumerConfigReadMode    = ReadModeBlocking
	DefaultConsumerConfigReadTimeout = 600 * time.Millisecond
	DefaultConsumerConfigReadSize    = 10
)

// ConsumerConfig structs contains the configuration for the consumer stage.
type ConsumerConfig struct {
	// ReadMode is the way the stage waits for data.
	//
	// Default: blocking
	ReadMode ReadMode

	// ReadTimeout is the longest a read waits for data.
	// It is only used in timeout mode.
	//
	// Default: 600ms
	ReadTimeout time.Duration

	// ReadSize is the maximum number of bytes read at once.
	//
	// Default: 10
	ReadSize int
}

// NewConsumerConfig returns the default configuration for the consumer stage.
func NewConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		ReadMode:    DefaultConsumerConfigReadMode,
		ReadTimeout: DefaultConsumerConfigReadTimeout,
		ReadSize:    DefaultConsumerConfigReadSize,
	}
}

// Validate checks the configuration.
func (c *ConsumerConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckOneOf(ac, "ReadMode", &c.ReadMode,
		[]ReadMode{ReadModeBlocking, ReadModeTimeout}, DefaultConsumerConfigReadMode)
	config.CheckPositive(ac, "ReadTimeout", &c.ReadTimeout, DefaultConsumerConfigReadTimeout)
	config.CheckPositive(ac, "ReadSize", &c.ReadSize, DefaultConsumerConfigReadSize)
	config.CheckNotGreater(ac, "ReadSize", &c.ReadSize, connector.MaxCapacity)
}

/////////////
//  STAGE  //
/////////////

// ConsumerStage is an egress stage that reads the ring buffer
// and delivers every chunk it gets to a sink.
//
// In blocking mode the stage only stops when the ring buffer is closed,
// cancelling the context is not enough.
type ConsumerStage struct {
	tel *internal.Telemetry

	cfg *ConsumerConfig

	inputConnector conn

	worker *worker
	buf    []byte

	// Metrics
	consumedBytes atomic.Int64
	readTimeouts  atomic.Int64
	readErrors    atomic.Int64
}

// NewConsumerStage returns a new consumer stage delivering to the given sink.
func NewConsumerStage(inputConnector conn, sink Sink, cfg *ConsumerConfig) *ConsumerStage {
	tel := internal.NewTelemetry("egress", sink.Name())

	return &ConsumerStage{
		tel: tel,

		cfg: cfg,

		inputConnector: inputConnector,

		worker: newWorker(tel, sink),
	}
}

// Init initializes the stage and its sink.
func (cs *ConsumerStage) Init(ctx context.Context) error {
	cs.tel.LogInfo("initializing")

	config.NewValidator(cs.tel).Validate(cs.cfg)

	cs.buf = make([]byte, cs.cfg.ReadSize)

	cs.tel.NewCounter("consumed_bytes", func() int64 { return cs.consumedBytes.Load() })
	cs.tel.NewCounter("read_timeouts", func() int64 { return cs.readTimeouts.Load() })
	cs.tel.NewCounter("read_errors", func() int64 { return cs.readErrors.Load() })

	return cs.worker.init(ctx)
}

// Run reads until the ring buffer is closed (and drained) or the context is done.
func (cs *ConsumerStage) Run(ctx context.Context) {
	cs.tel.LogInfo("running", "read_mode", cs.cfg.ReadMode)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := cs.read()
		if err != nil {
			// Check if the input connector is closed, if so stop
			if errors.Is(err, connector.ErrClosed) {
				cs.tel.LogInfo("input connector is closed, stopping")
				return
			}

			cs.readErrors.Add(1)
			cs.tel.LogError("read data from ring buffer failed", err)
			return
		}

		if n == 0 {
			cs.readTimeouts.Add(1)
			cs.tel.LogInfo("read data from ring buffer timeout", "timeout", cs.cfg.ReadTimeout)
			continue
		}

		cs.consumedBytes.Add(int64(n))
		cs.worker.deliver(ctx, cs.buf[:n])
	}
}

func (cs *ConsumerStage) read() (int, error) {
	if cs.cfg.ReadMode == ReadModeTimeout {
		return cs.inputConnector.ReadWithTimeout(cs.buf, cs.cfg.ReadTimeout)
	}
	return cs.inputConnector.Read(cs.buf)
}

// Close closes the sink.
func (cs *ConsumerStage) Close() {
	cs.tel.LogInfo("closing")

	cs.worker.close(context.Background())
}

package ingress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the Ticker stage configuration.
const (
	DefaultTickerConfigInterval = time.Second
)

// DefaultTickerConfigPayload is the default payload written at every tick.
var DefaultTickerConfigPayload = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}

// TickerConfig structs contains the configuration for the Ticker stage.
type TickerConfig struct {
	// Interval is the duration between two writes.
	//
	// Default: 1s
	Interval time.Duration

	// Payload is written into the ring buffer at every tick.
	//
	// Default: 0x01 ... 0x0A
	Payload []byte
}

// NewTickerConfig returns the default configuration for the Ticker stage.
func NewTickerConfig() *TickerConfig {
	return &TickerConfig{
		Interval: DefaultTickerConfigInterval,
		Payload:  DefaultTickerConfigPayload,
	}
}

// Validate checks the configuration.
func (c *TickerConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckPositive(ac, "Interval", &c.Interval, DefaultTickerConfigInterval)
	config.CheckLen(ac, "Payload", &c.Payload, DefaultTickerConfigPayload)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*tickerSource)(nil)

type tickerSource struct {
	tel *internal.Telemetry

	payload []byte
	ticker  *time.Ticker

	// Metrics
	ticks       atomic.Int64
	shortWrites atomic.Int64
}

func newTickerSource() *tickerSource {
	return &tickerSource{}
}

func (ts *tickerSource) setTelemetry(tel *internal.Telemetry) {
	ts.tel = tel
}

func (ts *tickerSource) init(interval time.Duration, payload []byte) {
	ts.payload = payload
	ts.ticker = time.NewTicker(interval)

	ts.tel.NewCounter("ticks", func() int64 { return ts.ticks.Load() })
	ts.tel.NewCounter("short_writes", func() int64 { return ts.shortWrites.Load() })
}

func (ts *tickerSource) run(ctx context.Context, w *writer) {
	defer ts.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ts.ticker.C:
			if stop := ts.handleTick(ctx, w); stop {
				return
			}
		}
	}
}

// handleTick writes the payload once and returns whether the source must stop.
// A short write is reported but never retried, the next tick writes the whole payload again.
func (ts *tickerSource) handleTick(ctx context.Context, w *writer) bool {
	ts.ticks.Add(1)

	payloadLen := len(ts.payload)
	ts.tel.LogInfo("write data to ring buffer", "len", payloadLen, "data", internal.FormatHex(ts.payload))

	n, err := w.writeAll(ctx, ts.payload)
	if err != nil {
		if isClosed(err) {
			ts.tel.LogInfo("ring buffer closed, stopping")
		} else {
			ts.tel.LogError("failed to write data to ring buffer", err)
		}
		return true
	}

	if n != payloadLen {
		ts.shortWrites.Add(1)
		ts.tel.LogWarn("write data to ring buffer failed", "written", n, "requested", payloadLen)
	}

	return false
}

/////////////
//  STAGE  //
/////////////

// TickerStage is an ingress stage that writes a fixed payload periodically.
type TickerStage struct {
	*stage[*TickerConfig]

	source *tickerSource
}

// NewTickerStage returns a new Ticker stage.
func NewTickerStage(outConnector conn, cfg *TickerConfig) *TickerStage {
	source := newTickerSource()

	return &TickerStage{
		stage: newStage("ticker", source, outConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (ts *TickerStage) Init(ctx context.Context) error {
	if err := ts.stage.Init(ctx); err != nil {
		return err
	}

	ts.source.init(ts.cfg.Interval, ts.cfg.Payload)

	return nil
}

package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
	"github.com/stretchr/testify/assert"
)

func newTestTelemetry() *internal.Telemetry {
	return internal.NewTelemetry("ingress", "test")
}

func Test_TickerConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := &TickerConfig{}

	ac := config.NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Equal(2, ac.Len())
	assert.Equal(DefaultTickerConfigInterval, cfg.Interval)
	assert.Equal(DefaultTickerConfigPayload, cfg.Payload)
}

func Test_TickerStage(t *testing.T) {
	assert := assert.New(t)

	buf := newTestBuffer(t, 6)

	cfg := NewTickerConfig()
	cfg.Interval = 5 * time.Millisecond
	cfg.Payload = []byte{0x01, 0x02, 0x03, 0x04}

	stage := NewTickerStage(buf, cfg)
	done := runTestStage(t.Context(), t, stage)

	// The second tick only fits half of the payload
	assert.Eventually(func() bool {
		return stage.source.shortWrites.Load() >= 1
	}, time.Second, time.Millisecond)

	p := make([]byte, 8)
	n, err := buf.TryRead(p)
	assert.NoError(err)
	assert.Equal([]byte{0x01, 0x02, 0x03, 0x04, 0x01, 0x02}, p[:n])

	assert.GreaterOrEqual(stage.writer.droppedBytes.Load(), int64(2))
	assert.GreaterOrEqual(stage.writer.producedBytes.Load(), int64(6))

	// Closing the ring buffer stops the producer at the next tick
	buf.Close()
	waitDone(t, done)

	stage.Close()
}

func Test_TickerStage_Cancel(t *testing.T) {
	buf := newTestBuffer(t, 1024)

	cfg := NewTickerConfig()
	cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(t.Context())

	stage := NewTickerStage(buf, cfg)
	done := runTestStage(ctx, t, stage)

	cancel()
	waitDone(t, done)

	assert.Zero(t, buf.Len())
}

package bytering

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/bytering/egress"
	"github.com/FerroO2000/bytering/ingress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mux  sync.Mutex
	data []byte
}

func (cs *collectSink) Name() string { return "collect" }

func (cs *collectSink) Init(_ context.Context) error { return nil }

func (cs *collectSink) Deliver(_ context.Context, chunk []byte) error {
	cs.mux.Lock()
	defer cs.mux.Unlock()

	cs.data = append(cs.data, chunk...)
	return nil
}

func (cs *collectSink) Close(_ context.Context) error { return nil }

func (cs *collectSink) len() int {
	cs.mux.Lock()
	defer cs.mux.Unlock()

	return len(cs.data)
}

func Test_Pipeline(t *testing.T) {
	assert := assert.New(t)

	buffer, err := NewRingBuffer(1024)
	require.NoError(t, err)
	defer buffer.Destroy()

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}

	tickerCfg := ingress.NewTickerConfig()
	tickerCfg.Interval = 5 * time.Millisecond
	tickerCfg.Payload = payload

	sink := &collectSink{}

	consumerCfg := egress.NewConsumerConfig()
	consumerCfg.ReadMode = egress.ReadModeTimeout
	consumerCfg.ReadTimeout = 20 * time.Millisecond

	pipeline := NewPipeline(buffer)
	pipeline.AddProducer(ingress.NewTickerStage(buffer, tickerCfg))
	pipeline.AddConsumer(egress.NewConsumerStage(buffer, sink, consumerCfg))

	require.NoError(t, pipeline.Init(t.Context()))
	pipeline.Run(t.Context())

	// Stages cannot be added to a running pipeline
	pipeline.AddConsumer(egress.NewConsumerStage(buffer, egress.NewDiscardSink(), consumerCfg))
	assert.Len(pipeline.consumers, 1)

	assert.Eventually(func() bool {
		return sink.len() >= 3*len(payload)
	}, 2*time.Second, time.Millisecond)

	pipeline.Close()
	pipeline.Close()

	assert.True(buffer.IsClosed())

	// Everything written has been consumed, in order
	stats := buffer.Stats()
	assert.Equal(stats.BytesWritten, stats.BytesRead)
	assert.Equal(int(stats.BytesRead), len(sink.data))
	assert.Equal(bytes.Repeat(payload, len(sink.data)/len(payload)), sink.data)
}

func Test_Pipeline_Blocking(t *testing.T) {
	assert := assert.New(t)

	buffer, err := NewRingBuffer(64)
	require.NoError(t, err)
	defer buffer.Destroy()

	sinks := []*collectSink{{}, {}}

	pipeline := NewPipeline(buffer)
	for _, sink := range sinks {
		pipeline.AddConsumer(egress.NewConsumerStage(buffer, sink, egress.NewConsumerConfig()))
	}

	require.NoError(t, pipeline.Init(t.Context()))
	pipeline.Run(t.Context())

	n, err := buffer.Write(bytes.Repeat([]byte{0xAA}, 40))
	require.NoError(t, err)
	assert.Equal(40, n)

	// Blocked consumers are woken up by Close
	closed := make(chan struct{})
	go func() {
		pipeline.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not close")
	}

	assert.Equal(40, sinks[0].len()+sinks[1].len())
}

func Test_Pipeline_CancelBeforeClose(t *testing.T) {
	assert := assert.New(t)

	buffer, err := NewRingBuffer(64)
	require.NoError(t, err)
	defer buffer.Destroy()

	sink := &collectSink{}

	consumerCfg := egress.NewConsumerConfig()
	consumerCfg.ReadMode = egress.ReadModeTimeout
	consumerCfg.ReadTimeout = 20 * time.Millisecond

	pipeline := NewPipeline(buffer)
	pipeline.AddConsumer(egress.NewConsumerStage(buffer, sink, consumerCfg))

	ctx, cancel := context.WithCancel(t.Context())

	require.NoError(t, pipeline.Init(ctx))
	pipeline.Run(ctx)

	// The signal arrives before the pipeline is closed,
	// the bytes still stored must be delivered anyway
	cancel()

	n, err := buffer.Write(bytes.Repeat([]byte{0x55}, 20))
	require.NoError(t, err)
	assert.Equal(20, n)

	pipeline.Close()

	assert.Equal(20, sink.len())
	assert.Zero(buffer.Len())
}

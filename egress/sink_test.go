package egress

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTelemetry() *internal.Telemetry {
	return internal.NewTelemetry("egress", "test")
}

func Test_DiscardSink(t *testing.T) {
	assert := assert.New(t)

	sink := NewDiscardSink()
	assert.NoError(sink.Init(t.Context()))
	assert.NoError(sink.Deliver(t.Context(), []byte{1, 2, 3}))
	assert.NoError(sink.Close(t.Context()))
}

func Test_HexSink(t *testing.T) {
	assert := assert.New(t)

	out := &bytes.Buffer{}

	sink := NewHexSink(out, ReadModeBlocking)
	sink.now = func() time.Time { return time.UnixMilli(1700000000123) }

	assert.NoError(sink.Init(t.Context()))
	assert.NoError(sink.Deliver(t.Context(), []byte{0x01, 0x02, 0x0A, 0xFF}))

	assert.Equal("[1700000000123] read data from ring buffer. data[len: 4]: 0x01 0x02 0x0A 0xFF\n\n", out.String())
	assert.NoError(sink.Close(t.Context()))
}

func Test_HexSink_TimeoutMode(t *testing.T) {
	assert := assert.New(t)

	out := &bytes.Buffer{}

	sink := NewHexSink(out, ReadModeTimeout)
	sink.now = func() time.Time { return time.UnixMilli(1700000000456) }

	assert.NoError(sink.Deliver(t.Context(), []byte{0x09, 0x0A}))

	assert.Equal("[1700000000456] read data from ring buffer success. data[len: 2]: 0x09 0x0A\n\n", out.String())
}

func Test_FileSink(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "out.bin")

	cfg := NewFileSinkConfig(path)
	cfg.BufferSize = 8
	cfg.FlushThresholdPercentage = 0.5
	cfg.FlushDeadline = time.Hour

	sink := NewFileSink(cfg)
	sink.setTelemetry(newTestTelemetry())
	require.NoError(t, sink.Init(t.Context()))

	// Below the threshold the bytes stay in the buffer
	assert.NoError(sink.Deliver(t.Context(), []byte("ab")))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(content)

	// Reaching the threshold flushes
	assert.NoError(sink.Deliver(t.Context(), []byte("cd")))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal("abcd", string(content))

	// Closing flushes the rest
	assert.NoError(sink.Deliver(t.Context(), []byte("e")))
	assert.NoError(sink.Close(t.Context()))
	assert.NoError(sink.Close(t.Context()))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal("abcde", string(content))

	assert.Equal(int64(5), sink.writtenBytes.Load())
}

func Test_FileSink_FlushDeadline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")

	cfg := NewFileSinkConfig(path)
	cfg.FlushDeadline = 10 * time.Millisecond

	sink := NewFileSink(cfg)
	sink.setTelemetry(newTestTelemetry())
	require.NoError(t, sink.Init(t.Context()))
	defer sink.Close(t.Context())

	require.NoError(t, sink.Deliver(t.Context(), []byte("tick")))

	assert.Eventually(t, func() bool {
		content, err := os.ReadFile(path)
		return err == nil && string(content) == "tick"
	}, time.Second, 5*time.Millisecond)
}

type fakeKafkaWriter struct {
	mux  sync.Mutex
	msgs []kafka.Message

	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mux.Lock()
	defer w.mux.Unlock()

	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func Test_KafkaSink(t *testing.T) {
	assert := assert.New(t)

	cfg := NewKafkaSinkConfig("")
	cfg.Key = []byte("ring")

	writer := &fakeKafkaWriter{}

	sink := NewKafkaSink(cfg)
	sink.setTelemetry(newTestTelemetry())
	sink.writer = writer

	require.NoError(t, sink.Init(t.Context()))

	// The empty topic is replaced by the default one
	assert.Equal(DefaultKafkaSinkConfigTopic, cfg.Topic)

	chunk := []byte{0x01, 0x02, 0x03}
	assert.NoError(sink.Deliver(t.Context(), chunk))

	// The message must not alias the chunk
	chunk[0] = 0xFF

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(DefaultKafkaSinkConfigTopic, msg.Topic)
	assert.Equal([]byte("ring"), msg.Key)
	assert.Equal([]byte{0x01, 0x02, 0x03}, msg.Value)

	assert.NoError(sink.Close(t.Context()))
	assert.True(writer.closed)
}

func Test_KafkaSinkConfig_newWriter(t *testing.T) {
	assert := assert.New(t)

	writer := NewKafkaSinkConfig("bytes").newWriter()
	defer writer.Close()

	assert.Equal("localhost:9092", writer.Addr.String())
	assert.True(writer.Async)
	assert.Equal(DefaultKafkaSinkConfigBatchSize, writer.BatchSize)
	assert.Equal(kafka.RequireNone, writer.RequiredAcks)
}

func Test_UDPSink(t *testing.T) {
	assert := assert.New(t)

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	cfg := NewUDPSinkConfig()
	cfg.Port = uint16(listener.LocalAddr().(*net.UDPAddr).Port)

	sink := NewUDPSink(cfg)
	sink.setTelemetry(newTestTelemetry())
	require.NoError(t, sink.Init(t.Context()))
	defer sink.Close(t.Context())

	assert.NoError(sink.Deliver(t.Context(), []byte("chunk")))

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))

	p := make([]byte, 16)
	n, err := listener.Read(p)
	require.NoError(t, err)

	assert.Equal("chunk", string(p[:n]))
	assert.Equal(int64(5), sink.deliveredBytes.Load())
}

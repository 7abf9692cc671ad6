package ingress

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/FerroO2000/bytering/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafkaReader struct {
	msgCh chan kafka.Message

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeKafkaReader() *fakeKafkaReader {
	return &fakeKafkaReader{
		msgCh:    make(chan kafka.Message, 8),
		closedCh: make(chan struct{}),
	}
}

func (r *fakeKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closedCh:
		return kafka.Message{}, io.EOF
	case msg := <-r.msgCh:
		return msg, nil
	}
}

func (r *fakeKafkaReader) Close() error {
	r.closeOnce.Do(func() { close(r.closedCh) })
	return nil
}

func Test_KafkaConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := NewKafkaConfig()
	cfg.StartOffset = 42

	ac := config.NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Equal([]string{"Topics", "StartOffset"}, ac.Fields())
	assert.Equal(DefaultKafkaConfigTopics, cfg.Topics)
	assert.Equal(kafka.FirstOffset, cfg.StartOffset)

	readerCfg := cfg.toReaderConfig()
	assert.Equal(DefaultKafkaConfigGroupID, readerCfg.GroupID)
	assert.Equal(DefaultKafkaConfigTopics, readerCfg.GroupTopics)
}

func Test_KafkaStage(t *testing.T) {
	assert := assert.New(t)

	buf := newTestBuffer(t, 16)
	reader := newFakeKafkaReader()

	stage := NewKafkaStage(buf, NewKafkaConfig("bytes"))
	require.NoError(t, stage.stage.Init(t.Context()))
	stage.source.init(reader)

	done := make(chan struct{})
	go func() {
		defer close(done)
		stage.Run(t.Context())
	}()

	reader.msgCh <- kafka.Message{
		Topic: "bytes",
		Value: []byte("abc"),
		Headers: []kafka.Header{
			{Key: "traceparent", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")},
		},
	}
	reader.msgCh <- kafka.Message{Topic: "bytes", Value: []byte("def")}

	assert.Equal("abcdef", string(readN(t, buf, 6)))
	assert.Equal(int64(2), stage.source.receivedMessages.Load())
	assert.Equal(int64(6), stage.source.receivedBytes.Load())

	// Closing the reader stops the source
	stage.Close()
	waitDone(t, done)
}

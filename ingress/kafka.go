package ingress

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
	"github.com/FerroO2000/bytering/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigBrokers = []string{"localhost:9092"}

// DefaultKafkaConfigTopics is the list of topics used when none is given.
var DefaultKafkaConfigTopics = []string{"bytering"}

// Default values for the Kafka ingress stage configuration.
const (
	DefaultKafkaConfigGroupID           = "bytering"
	DefaultKafkaConfigQueueCapacity     = 100
	DefaultKafkaConfigMinBytes          = 1
	DefaultKafkaConfigMaxBytes          = 1 << 20
	DefaultKafkaConfigMaxWait           = 10 * time.Second
	DefaultKafkaConfigCommitInterval    = 0
	DefaultKafkaConfigStartOffset       = kafka.FirstOffset
	DefaultKafkaConfigReadMinBackoff    = 100 * time.Millisecond
	DefaultKafkaConfigReadMaxBackoff    = 1 * time.Second
	DefaultKafkaConfigMaxAttempts       = 3
	DefaultKafkaConfigSessionTimeout    = 30 * time.Second
	DefaultKafkaConfigHeartbeatInterval = 3 * time.Second
)

// KafkaConfig structs contains the configuration for the Kafka ingress stage.
type KafkaConfig struct {
	// The list of broker addresses used to connect to the kafka cluster.
	//
	// Default: localhost:9092
	Brokers []string

	// GroupID holds the consumer group id.
	//
	// Default: bytering
	GroupID string

	// Topics are the topics consumed by the group.
	//
	// Default: bytering
	Topics []string

	// An dialer used to open connections to the kafka server. This field is
	// optional, if nil, the default dialer is used instead.
	Dialer *kafka.Dialer

	// The capacity of the internal message queue.
	//
	// Default: 100
	QueueCapacity int

	// MinBytes indicates to the broker the minimum batch size that the consumer
	// will accept.
	//
	// Default: 1
	MinBytes int

	// MaxBytes indicates to the broker the maximum batch size that the consumer
	// will accept.
	//
	// Default: 1MiB
	MaxBytes int

	// Maximum amount of time to wait for new data to come when fetching batches
	// of messages from kafka.
	//
	// Default: 10s
	MaxWait time.Duration

	// CommitInterval indicates the interval at which offsets are committed to
	// the broker. If 0, commits will be handled synchronously.
	//
	// Default: 0
	CommitInterval time.Duration

	// HeartbeatInterval sets the frequency at which the reader sends the consumer
	// group heartbeat update.
	//
	// Default: 3s
	HeartbeatInterval time.Duration

	// SessionTimeout sets the length of time that may pass without a heartbeat
	// before the coordinator considers the consumer dead.
	//
	// Default: 30s
	SessionTimeout time.Duration

	// StartOffset determines from whence the consumer group should begin
	// consuming when it finds a partition without a committed offset.
	// It must be either kafka.FirstOffset or kafka.LastOffset.
	//
	// Default: kafka.FirstOffset
	StartOffset int64

	// ReadBackoffMin is the smallest amount of time the reader will wait before
	// polling for new messages.
	//
	// Default: 100ms
	ReadBackoffMin time.Duration

	// ReadBackoffMax is the maximum amount of time the reader will wait before
	// polling for new messages.
	//
	// Default: 1s
	ReadBackoffMax time.Duration

	// Limit of how many attempts to connect will be made before returning the error.
	//
	// Default: 3
	MaxAttempts int
}

// NewKafkaConfig returns the default configuration for the Kafka ingress stage
// consuming the given topics.
func NewKafkaConfig(topics ...string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:           DefaultKafkaConfigBrokers,
		GroupID:           DefaultKafkaConfigGroupID,
		Topics:            topics,
		QueueCapacity:     DefaultKafkaConfigQueueCapacity,
		MinBytes:          DefaultKafkaConfigMinBytes,
		MaxBytes:          DefaultKafkaConfigMaxBytes,
		MaxWait:           DefaultKafkaConfigMaxWait,
		CommitInterval:    DefaultKafkaConfigCommitInterval,
		HeartbeatInterval: DefaultKafkaConfigHeartbeatInterval,
		SessionTimeout:    DefaultKafkaConfigSessionTimeout,
		StartOffset:       DefaultKafkaConfigStartOffset,
		ReadBackoffMin:    DefaultKafkaConfigReadMinBackoff,
		ReadBackoffMax:    DefaultKafkaConfigReadMaxBackoff,
		MaxAttempts:       DefaultKafkaConfigMaxAttempts,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)
	config.CheckNotEmpty(ac, "GroupID", &c.GroupID, DefaultKafkaConfigGroupID)
	config.CheckLen(ac, "Topics", &c.Topics, DefaultKafkaConfigTopics)

	config.CheckPositive(ac, "QueueCapacity", &c.QueueCapacity, DefaultKafkaConfigQueueCapacity)
	config.CheckPositive(ac, "MinBytes", &c.MinBytes, DefaultKafkaConfigMinBytes)
	config.CheckPositive(ac, "MaxBytes", &c.MaxBytes, DefaultKafkaConfigMaxBytes)
	config.CheckPositive(ac, "MaxWait", &c.MaxWait, DefaultKafkaConfigMaxWait)
	config.CheckNotNegative(ac, "CommitInterval", &c.CommitInterval, DefaultKafkaConfigCommitInterval)
	config.CheckOneOf(ac, "StartOffset", &c.StartOffset,
		[]int64{kafka.FirstOffset, kafka.LastOffset}, DefaultKafkaConfigStartOffset)
	config.CheckPositive(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigMaxAttempts)
}

func (c *KafkaConfig) toReaderConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:           c.Brokers,
		GroupID:           c.GroupID,
		GroupTopics:       c.Topics,
		Dialer:            c.Dialer,
		QueueCapacity:     c.QueueCapacity,
		MinBytes:          c.MinBytes,
		MaxBytes:          c.MaxBytes,
		MaxWait:           c.MaxWait,
		CommitInterval:    c.CommitInterval,
		HeartbeatInterval: c.HeartbeatInterval,
		SessionTimeout:    c.SessionTimeout,
		StartOffset:       c.StartOffset,
		ReadBackoffMin:    c.ReadBackoffMin,
		ReadBackoffMax:    c.ReadBackoffMax,
		MaxAttempts:       c.MaxAttempts,
	}
}

//////////////
//  SOURCE  //
//////////////

// kafkaReader is the subset of *kafka.Reader used by the source.
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

var _ source = (*kafkaSource)(nil)

type kafkaSource struct {
	tel *internal.Telemetry

	reader kafkaReader

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
}

func newKafkaSource() *kafkaSource {
	return &kafkaSource{}
}

func (ks *kafkaSource) setTelemetry(tel *internal.Telemetry) {
	ks.tel = tel
}

func (ks *kafkaSource) init(reader kafkaReader) {
	ks.reader = reader

	ks.tel.NewCounter("received_messages", func() int64 { return ks.receivedMessages.Load() })
	ks.tel.NewCounter("received_bytes", func() int64 { return ks.receivedBytes.Load() })
}

func (ks *kafkaSource) run(ctx context.Context, w *writer) {
	for {
		msg, err := ks.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}

			ks.tel.LogError("failed to read message", err)
			continue
		}

		if stop := ks.handleMessage(ctx, w, &msg); stop {
			return
		}
	}
}

// handleMessage writes the value of the record and returns whether the source must stop.
func (ks *kafkaSource) handleMessage(ctx context.Context, w *writer, msg *kafka.Message) bool {
	if len(msg.Headers) > 0 {
		ctx = ks.tel.ExtractTrace(ctx, telemetry.NewKafkaHeaderCarrier(msg.Headers))
	}

	ctx, span := ks.tel.NewTrace(ctx, "handle kafka message")
	defer span.End()

	valueSize := len(msg.Value)
	span.SetAttributes(
		attribute.String("topic", msg.Topic),
		attribute.Int("value_size", valueSize),
	)

	ks.receivedMessages.Add(1)
	ks.receivedBytes.Add(int64(valueSize))

	if _, err := w.writeAll(ctx, msg.Value); err != nil {
		if isClosed(err) {
			ks.tel.LogInfo("ring buffer closed, stopping")
		} else {
			ks.tel.LogError("failed to write message value to ring buffer", err)
		}
		return true
	}

	return false
}

func (ks *kafkaSource) close() {
	if ks.reader == nil {
		return
	}

	if err := ks.reader.Close(); err != nil {
		ks.tel.LogError("failed to close reader", err)
	}
}

/////////////
//  STAGE  //
/////////////

// KafkaStage is an ingress stage that writes the value
// of the Kafka records it consumes into the ring buffer.
type KafkaStage struct {
	*stage[*KafkaConfig]

	source *kafkaSource
}

// NewKafkaStage returns a new Kafka ingress stage.
func NewKafkaStage(outConnector conn, cfg *KafkaConfig) *KafkaStage {
	source := newKafkaSource()

	return &KafkaStage{
		stage: newStage("kafka", source, outConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (ks *KafkaStage) Init(ctx context.Context) error {
	if err := ks.stage.Init(ctx); err != nil {
		return err
	}

	ks.source.init(kafka.NewReader(ks.cfg.toReaderConfig()))

	return nil
}

// Close closes the stage.
func (ks *KafkaStage) Close() {
	ks.stage.Close()
	ks.source.close()
}

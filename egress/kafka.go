package egress

import (
	"bytes"
	"context"
	"time"

	"github.com/FerroO2000/bytering/internal/config"
	"github.com/FerroO2000/bytering/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaSinkConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaSinkConfigBrokers = []string{"localhost:9092"}

// Default values for the Kafka sink configuration.
const (
	DefaultKafkaSinkConfigTopic                  = "bytering"
	DefaultKafkaSinkConfigMaxAttempts            = 10
	DefaultKafkaSinkConfigWriteBackoffMin        = 100 * time.Millisecond
	DefaultKafkaSinkConfigWriteBackoffMax        = time.Second
	DefaultKafkaSinkConfigBatchSize              = 100
	DefaultKafkaSinkConfigBatchBytes             = 1048576
	DefaultKafkaSinkConfigBatchTimeout           = time.Second
	DefaultKafkaSinkConfigWriteTimeout           = 10 * time.Second
	DefaultKafkaSinkConfigRequiredAcks           = kafka.RequireNone
	DefaultKafkaSinkConfigAsync                  = true
	DefaultKafkaSinkConfigCompression            = kafka.Snappy
	DefaultKafkaSinkConfigAllowAutoTopicCreation = true
)

// KafkaSinkConfig structs contains the configuration for the Kafka sink.
type KafkaSinkConfig struct {
	// A list of Kafka brokers to connect to.
	//
	// Default: localhost:9092
	Brokers []string

	// Topic is the topic every chunk is written to.
	//
	// Default: bytering
	Topic string

	// Key is the key of every message. If nil, messages have no key
	// and are spread across the partitions by the balancer.
	Key []byte

	// The balancer used to distribute messages across partitions.
	//
	// Default: RoundRobin
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	//
	// Default: 10
	MaxAttempts int

	// WriteBackoffMin sets the smallest amount of time the writer waits before
	// it attempts to write a batch of messages.
	//
	// Default: 100ms
	WriteBackoffMin time.Duration

	// WriteBackoffMax sets the maximum amount of time the writer waits before
	// it attempts to write a batch of messages.
	//
	// Default: 1s
	WriteBackoffMax time.Duration

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	//
	// Default: 100
	BatchSize int

	// Limit the maximum size of a request in bytes before being sent to
	// a partition.
	//
	// Default: 1048576
	BatchBytes int64

	// Time limit on how often incomplete message batches will be flushed to
	// kafka.
	//
	// Default: 1s
	BatchTimeout time.Duration

	// Timeout for write operation performed by the Writer.
	//
	// Default: 10s
	WriteTimeout time.Duration

	// Number of acknowledges from partition replicas required before receiving
	// a response to a produce request.
	//
	// Default: RequireNone
	RequiredAcks kafka.RequiredAcks

	// Setting this flag to true causes the WriteMessages method to never block.
	// It also means that errors are ignored since the caller will not receive
	// the returned value.
	//
	// Default: true
	Async bool

	// Compression set the compression codec to be used to compress messages.
	//
	// Default: Snappy
	Compression kafka.Compression

	// A transport used to send messages to kafka clusters.
	// If nil, DefaultTransport is used.
	Transport kafka.RoundTripper

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	//
	// Default: true
	AllowAutoTopicCreation bool
}

// NewKafkaSinkConfig returns the default configuration for the Kafka sink.
func NewKafkaSinkConfig(topic string) *KafkaSinkConfig {
	return &KafkaSinkConfig{
		Brokers:                DefaultKafkaSinkConfigBrokers,
		Topic:                  topic,
		Balancer:               &kafka.RoundRobin{},
		MaxAttempts:            DefaultKafkaSinkConfigMaxAttempts,
		WriteBackoffMin:        DefaultKafkaSinkConfigWriteBackoffMin,
		WriteBackoffMax:        DefaultKafkaSinkConfigWriteBackoffMax,
		BatchSize:              DefaultKafkaSinkConfigBatchSize,
		BatchBytes:             DefaultKafkaSinkConfigBatchBytes,
		BatchTimeout:           DefaultKafkaSinkConfigBatchTimeout,
		WriteTimeout:           DefaultKafkaSinkConfigWriteTimeout,
		RequiredAcks:           DefaultKafkaSinkConfigRequiredAcks,
		Async:                  DefaultKafkaSinkConfigAsync,
		Compression:            DefaultKafkaSinkConfigCompression,
		AllowAutoTopicCreation: DefaultKafkaSinkConfigAllowAutoTopicCreation,
	}
}

// Validate checks the configuration.
func (c *KafkaSinkConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaSinkConfigBrokers)
	config.CheckNotEmpty(ac, "Topic", &c.Topic, DefaultKafkaSinkConfigTopic)

	config.CheckPositive(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaSinkConfigMaxAttempts)
	config.CheckPositive(ac, "BatchSize", &c.BatchSize, DefaultKafkaSinkConfigBatchSize)
	config.CheckPositive(ac, "BatchBytes", &c.BatchBytes, DefaultKafkaSinkConfigBatchBytes)
	config.CheckPositive(ac, "BatchTimeout", &c.BatchTimeout, DefaultKafkaSinkConfigBatchTimeout)
	config.CheckPositive(ac, "WriteTimeout", &c.WriteTimeout, DefaultKafkaSinkConfigWriteTimeout)
}

func (c *KafkaSinkConfig) newWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               c.Balancer,
		MaxAttempts:            c.MaxAttempts,
		WriteBackoffMin:        c.WriteBackoffMin,
		WriteBackoffMax:        c.WriteBackoffMax,
		BatchSize:              c.BatchSize,
		BatchBytes:             c.BatchBytes,
		BatchTimeout:           c.BatchTimeout,
		WriteTimeout:           c.WriteTimeout,
		RequiredAcks:           c.RequiredAcks,
		Async:                  c.Async,
		Compression:            c.Compression,
		Transport:              c.Transport,
		AllowAutoTopicCreation: c.AllowAutoTopicCreation,
	}
}

////////////
//  SINK  //
////////////

// kafkaWriter is the subset of *kafka.Writer used by the sink.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Sink = (*KafkaSink)(nil)

// KafkaSink is a sink that writes every chunk as the value of a Kafka message.
// The trace context of the delivery is injected into the message headers.
type KafkaSink struct {
	sinkBase

	cfg *KafkaSinkConfig

	writer kafkaWriter
}

// NewKafkaSink returns a new Kafka sink.
func NewKafkaSink(cfg *KafkaSinkConfig) *KafkaSink {
	return &KafkaSink{
		cfg: cfg,
	}
}

// Name returns the name of the sink.
func (ks *KafkaSink) Name() string { return "kafka" }

// Init creates the Kafka writer.
func (ks *KafkaSink) Init(_ context.Context) error {
	ks.validate(ks.cfg)

	if ks.writer == nil {
		ks.writer = ks.cfg.newWriter()
	}

	return nil
}

// Deliver writes the chunk to Kafka.
func (ks *KafkaSink) Deliver(ctx context.Context, chunk []byte) error {
	ctx, span := ks.tel.NewTrace(ctx, "deliver kafka message")
	defer span.End()

	// Create the header that carries the trace
	headerCarrier := telemetry.NewKafkaHeaderCarrier(nil)
	ks.tel.InjectTrace(ctx, headerCarrier)

	span.SetAttributes(
		attribute.String("topic", ks.cfg.Topic),
		attribute.Int("value_size", len(chunk)),
	)

	// The writer may batch the message after returning,
	// so the value cannot alias the read buffer
	return ks.writer.WriteMessages(ctx, kafka.Message{
		Topic: ks.cfg.Topic,
		Key:   ks.cfg.Key,
		Value: bytes.Clone(chunk),

		Headers: headerCarrier.Headers(),
	})
}

// Close flushes the pending messages and closes the writer.
func (ks *KafkaSink) Close(_ context.Context) error {
	if ks.writer == nil {
		return nil
	}
	return ks.writer.Close()
}

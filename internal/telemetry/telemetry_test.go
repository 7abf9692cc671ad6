package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func Test_KafkaHeaderCarrier(t *testing.T) {
	assert := assert.New(t)

	carrier := NewKafkaHeaderCarrier([]kafka.Header{
		{Key: "source", Value: []byte("ticker")},
	})

	assert.Equal("ticker", carrier.Get("source"))
	assert.Empty(carrier.Get("missing"))

	carrier.Set("source", "file")
	carrier.Set("traceparent", "value")

	assert.Equal("file", carrier.Get("source"))
	assert.ElementsMatch([]string{"source", "traceparent"}, carrier.Keys())
	assert.Len(carrier.Headers(), 2)
}

func Test_KafkaHeaderCarrier_Propagation(t *testing.T) {
	assert := assert.New(t)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	carrier := NewKafkaHeaderCarrier(nil)
	propagator := propagation.TraceContext{}
	propagator.Inject(ctx, carrier)

	assert.Contains(carrier.Keys(), "traceparent")

	extracted := trace.SpanContextFromContext(propagator.Extract(context.Background(), carrier))
	assert.Equal(traceID, extracted.TraceID())
	assert.Equal(spanID, extracted.SpanID())
}

func Test_NewConsoleHandler(t *testing.T) {
	assert := assert.New(t)

	buf := &bytes.Buffer{}
	logger := slog.New(NewConsoleHandler(buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.Info("read data from ring buffer", "len", 10)

	out := buf.String()
	assert.NotContains(out, "hidden")
	assert.Contains(out, "read data from ring buffer")
	assert.Contains(out, "len=10")

	// A buffer is not a terminal, so no escape sequences are written
	assert.NotContains(out, "\x1b[")
}

// Package internal contains the telemetry shared by the stages of the library.
package internal

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/FerroO2000/bytering"

// Telemetry bundles the logger, the meter and the tracer of a component.
// Every record/measurement/span it produces is labeled with the kind
// (ingress, egress, pipeline) and the name of the component.
type Telemetry struct {
	kind string
	name string

	logger *slog.Logger

	meter    metric.Meter
	attrSet  attribute.Set
	tracer   trace.Tracer
	traceOpt trace.SpanStartOption
}

// NewTelemetry returns the telemetry of the component with the given kind and name.
//
// Log records go both to the default slog handler (the console) and to the
// OpenTelemetry log bridge. Both are resolved lazily, so components can be
// created before the telemetry providers are set up.
func NewTelemetry(kind, name string) *Telemetry {
	scope := instrumentationName + "/" + kind

	handler := newFanoutHandler(
		slog.Default().Handler(),
		otelslog.NewHandler(scope),
	)

	attrs := []attribute.KeyValue{
		attribute.String("component_kind", kind),
		attribute.String("component_name", name),
	}

	return &Telemetry{
		kind: kind,
		name: name,

		logger: slog.New(handler).With("kind", kind, "name", name),

		meter:    otel.Meter(scope),
		attrSet:  attribute.NewSet(attrs...),
		tracer:   otel.Tracer(scope),
		traceOpt: trace.WithAttributes(attrs...),
	}
}

// Name returns the name of the component.
func (t *Telemetry) Name() string {
	return t.name
}

// LogDebug logs a debug message.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs an error message along with the error that caused it.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// NewCounter registers an observable monotonic counter
// whose value is read from the given callback.
func (t *Telemetry) NewCounter(name string, callback func() int64) {
	_, err := t.meter.Int64ObservableCounter(name,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(callback(), metric.WithAttributeSet(t.attrSet))
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
	}
}

// NewUpDownCounter registers an observable counter that can go up and down
// whose value is read from the given callback.
func (t *Telemetry) NewUpDownCounter(name string, callback func() int64) {
	_, err := t.meter.Int64ObservableUpDownCounter(name,
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(callback(), metric.WithAttributeSet(t.attrSet))
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create up-down counter", err, "counter", name)
	}
}

// Histogram is an int64 histogram labeled with the component attributes.
type Histogram struct {
	hist    metric.Int64Histogram
	attrOpt metric.MeasurementOption
}

// Record records a value.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h.hist == nil {
		return
	}
	h.hist.Record(ctx, value, h.attrOpt)
}

// NewHistogram returns a new histogram.
// When the instrument cannot be created the histogram discards every value.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) *Histogram {
	hist, err := t.meter.Int64Histogram(name, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "histogram", name)
	}

	return &Histogram{
		hist:    hist,
		attrOpt: metric.WithAttributeSet(t.attrSet),
	}
}

// NewTrace starts a new span.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, t.traceOpt)
}

// InjectTrace injects the span context carried by ctx into the carrier.
func (t *Telemetry) InjectTrace(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTrace returns a copy of ctx carrying the span context found in the carrier.
func (t *Telemetry) ExtractTrace(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

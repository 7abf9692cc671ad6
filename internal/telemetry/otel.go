package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrCollectorUnreachable is returned by Init when the collector
// does not accept TCP connections.
var ErrCollectorUnreachable = errors.New("telemetry: collector is not reachable")

// Default values for the OpenTelemetry configuration.
const (
	DefaultConfigEndpoint       = "localhost:4317"
	DefaultConfigServiceVersion = "0.1.0"
	DefaultConfigTraceRatio     = 0.05
	DefaultConfigMetricInterval = time.Second
	DefaultConfigDialTimeout    = 2 * time.Second
)

// Config is the configuration of the OpenTelemetry providers.
type Config struct {
	// Endpoint is the address of the OTLP gRPC collector.
	//
	// Default: localhost:4317
	Endpoint string

	// ServiceName is the name of the service reported in the resource.
	ServiceName string

	// ServiceVersion is the version of the service reported in the resource.
	//
	// Default: 0.1.0
	ServiceVersion string

	// TraceRatio is the sampling ratio for traces.
	//
	// Default: 0.05
	TraceRatio float64

	// MetricInterval is the interval between two metric exports.
	//
	// Default: 1s
	MetricInterval time.Duration

	// DialTimeout bounds the reachability check of the collector.
	//
	// Default: 2s
	DialTimeout time.Duration
}

// DefaultConfig returns the default OpenTelemetry configuration.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		Endpoint:       DefaultConfigEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: DefaultConfigServiceVersion,
		TraceRatio:     DefaultConfigTraceRatio,
		MetricInterval: DefaultConfigMetricInterval,
		DialTimeout:    DefaultConfigDialTimeout,
	}
}

// Providers holds the OpenTelemetry providers installed by Init.
type Providers struct {
	conn *grpc.ClientConn

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

func isCollectorReachable(endpoint string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", endpoint, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Init installs the global OpenTelemetry providers exporting traces,
// metrics and logs to the collector. The returned providers must be shut down.
func Init(ctx context.Context, cfg *Config) (*Providers, error) {
	if !isCollectorReachable(cfg.Endpoint, cfg.DialTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrCollectorUnreachable, cfg.Endpoint)
	}

	grpcTransport := grpc.WithTransportCredentials(insecure.NewCredentials())
	grpcConn, err := grpc.NewClient(cfg.Endpoint, grpcTransport)
	if err != nil {
		return nil, err
	}

	p := &Providers{
		conn: grpcConn,
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	// Trace
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.tracerProvider = newTracerProvider(res, traceExporter, cfg.TraceRatio)
	otel.SetTracerProvider(p.tracerProvider)

	// Trace propagator
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Meter
	meterExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.meterProvider = newMeterProvider(res, meterExporter, cfg.MetricInterval)
	otel.SetMeterProvider(p.meterProvider)

	// Logger
	logExporter, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(grpcConn))
	if err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	global.SetLoggerProvider(p.loggerProvider)

	// Runtime
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	return p, nil
}

// Shutdown flushes and shuts down the providers and closes the collector connection.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error

	if p.tracerProvider != nil {
		errs = append(errs, p.tracerProvider.Shutdown(ctx))
	}

	if p.meterProvider != nil {
		errs = append(errs, p.meterProvider.Shutdown(ctx))
	}

	if p.loggerProvider != nil {
		errs = append(errs, p.loggerProvider.Shutdown(ctx))
	}

	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}

	return errors.Join(errs...)
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

func newTracerProvider(res *resource.Resource, exporter *otlptrace.Exporter, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
}

func newMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter, interval time.Duration) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	)
}

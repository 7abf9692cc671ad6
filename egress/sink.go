package egress

import (
	"context"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
)

// Sink is the destination of the chunks read by a consumer stage.
//
// The chunk passed to Deliver is only valid until Deliver returns,
// sinks that keep it around must copy it.
type Sink interface {
	// Name identifies the sink in logs, metrics and traces.
	Name() string
	Init(ctx context.Context) error
	Deliver(ctx context.Context, chunk []byte) error
	Close(ctx context.Context) error
}

type telemetrySetter interface {
	setTelemetry(tel *internal.Telemetry)
}

// sinkBase is embedded by the sinks of this package
// to receive the telemetry of the stage running them.
type sinkBase struct {
	tel *internal.Telemetry
}

func (sb *sinkBase) setTelemetry(tel *internal.Telemetry) {
	sb.tel = tel
}

// validate checks the configuration of the sink,
// replacing the invalid values with their defaults.
func (sb *sinkBase) validate(cfg cfg) {
	config.NewValidator(sb.tel).Validate(cfg)
}

///////////////
//  DISCARD  //
///////////////

var _ Sink = (*DiscardSink)(nil)

// DiscardSink is a sink that drops every chunk.
// It is intended for testing and benchmarking purposes.
type DiscardSink struct{}

// NewDiscardSink returns a new discard sink.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

// Name returns the name of the sink.
func (ds *DiscardSink) Name() string { return "discard" }

// Init does nothing.
func (ds *DiscardSink) Init(_ context.Context) error { return nil }

// Deliver drops the chunk.
func (ds *DiscardSink) Deliver(_ context.Context, _ []byte) error { return nil }

// Close does nothing.
func (ds *DiscardSink) Close(_ context.Context) error { return nil }

package ingress

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/connector"
	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

type source interface {
	setTelemetry(tel *internal.Telemetry)
	run(ctx context.Context, w *writer)
}

type stage[Cfg cfg] struct {
	tel *internal.Telemetry

	cfg Cfg

	source source

	writer *writer
}

func newStage[Cfg cfg](name string, source source, outConn conn, cfg Cfg) *stage[Cfg] {
	tel := internal.NewTelemetry("ingress", name)
	source.setTelemetry(tel)

	return &stage[Cfg]{
		tel: tel,

		cfg: cfg,

		source: source,

		writer: newWriter(tel, outConn),
	}
}

func (s *stage[Cfg]) Init(_ context.Context) error {
	s.tel.LogInfo("initializing")

	config.NewValidator(s.tel).Validate(s.cfg)

	s.writer.initMetrics()

	return nil
}

func (s *stage[Cfg]) Run(ctx context.Context) {
	s.tel.LogInfo("running")

	s.source.run(ctx, s.writer)
}

// Close does not close the ring buffer, it is shared with the other stages.
func (s *stage[Cfg]) Close() {
	s.tel.LogInfo("closing")
}

//////////////
//  WRITER  //
//////////////

// writer is the write path into the ring buffer shared by all the sources.
type writer struct {
	tel *internal.Telemetry

	outConn conn

	// Metrics
	producedBytes atomic.Int64
	droppedBytes  atomic.Int64
	writeErrors   atomic.Int64
}

func newWriter(tel *internal.Telemetry, outConn conn) *writer {
	return &writer{
		tel: tel,

		outConn: outConn,
	}
}

func (w *writer) initMetrics() {
	w.tel.NewCounter("produced_bytes", func() int64 { return w.producedBytes.Load() })
	w.tel.NewCounter("dropped_bytes", func() int64 { return w.droppedBytes.Load() })
	w.tel.NewCounter("write_errors", func() int64 { return w.writeErrors.Load() })
}

// write writes data into the ring buffer and returns the number of bytes stored.
// Bytes that did not fit are not reported as dropped, see drop.
func (w *writer) write(ctx context.Context, data []byte) (int, error) {
	_, span := w.tel.NewTrace(ctx, "write into ring buffer")
	defer span.End()

	n, err := w.outConn.Write(data)
	if err != nil {
		w.writeErrors.Add(1)
		span.RecordError(err)
		return n, err
	}

	w.producedBytes.Add(int64(n))

	span.SetAttributes(
		attribute.Int("requested", len(data)),
		attribute.Int("written", n),
	)

	return n, nil
}

// writeAll writes data and reports the bytes that did not fit as dropped.
func (w *writer) writeAll(ctx context.Context, data []byte) (int, error) {
	n, err := w.write(ctx, data)
	if err != nil {
		return n, err
	}

	if n < len(data) {
		w.drop(len(data) - n)
	}

	return n, nil
}

func (w *writer) drop(amount int) {
	w.droppedBytes.Add(int64(amount))
}

// waitFree waits at most the given time for some free space.
func (w *writer) waitFree(wait time.Duration) error {
	_, err := w.outConn.WaitFree(1, wait)
	return err
}

// isClosed states whether err means the ring buffer is gone
// and the source must stop.
func isClosed(err error) bool {
	return errors.Is(err, connector.ErrClosed)
}

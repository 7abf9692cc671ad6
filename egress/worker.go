package egress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/bytering/internal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

///////////////
//  METRICS  //
///////////////

type workerMetrics struct {
	tel *internal.Telemetry

	deliveredChunks atomic.Int64
	deliveryErrors  atomic.Int64

	deliveryTime *internal.Histogram
}

func newWorkerMetrics(tel *internal.Telemetry) *workerMetrics {
	return &workerMetrics{
		tel: tel,
	}
}

func (wm *workerMetrics) init() {
	wm.tel.NewCounter("delivered_chunks", func() int64 { return wm.deliveredChunks.Load() })
	wm.tel.NewCounter("delivery_errors", func() int64 { return wm.deliveryErrors.Load() })

	wm.deliveryTime = wm.tel.NewHistogram("delivery_time", metric.WithUnit("ms"))
}

func (wm *workerMetrics) incrementDeliveredChunks() {
	wm.deliveredChunks.Add(1)
}

func (wm *workerMetrics) incrementDeliveryErrors() {
	wm.deliveryErrors.Add(1)
}

func (wm *workerMetrics) recordDeliveryTime(ctx context.Context, start time.Time) {
	wm.deliveryTime.Record(ctx, time.Since(start).Milliseconds())
}

//////////////
//  WORKER  //
//////////////

// worker hands the chunks read by a consumer stage to its sink.
type worker struct {
	tel *internal.Telemetry

	sink Sink

	metrics *workerMetrics
}

func newWorker(tel *internal.Telemetry, sink Sink) *worker {
	return &worker{
		tel: tel,

		sink: sink,

		metrics: newWorkerMetrics(tel),
	}
}

func (w *worker) init(ctx context.Context) error {
	w.tel.LogInfo("initializing sink")

	if setter, ok := w.sink.(telemetrySetter); ok {
		setter.setTelemetry(w.tel)
	}

	w.metrics.init()

	if err := w.sink.Init(ctx); err != nil {
		w.tel.LogError("failed to init sink", err)
		return err
	}

	return nil
}

func (w *worker) deliver(ctx context.Context, chunk []byte) {
	ctx, span := w.tel.NewTrace(ctx, "deliver chunk")
	defer span.End()

	span.SetAttributes(attribute.Int("chunk_size", len(chunk)))

	start := time.Now()

	if err := w.sink.Deliver(ctx, chunk); err != nil {
		w.tel.LogError("failed to deliver chunk", err, "chunk_size", len(chunk))
		w.metrics.incrementDeliveryErrors()
		span.RecordError(err)
		return
	}

	w.metrics.incrementDeliveredChunks()
	w.metrics.recordDeliveryTime(ctx, start)
}

func (w *worker) close(ctx context.Context) {
	if err := w.sink.Close(ctx); err != nil {
		w.tel.LogError("failed to close sink", err)
	}
}

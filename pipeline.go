// Package bytering connects producer and consumer stages
// through a shared, bounded and thread-safe byte ring buffer.
package bytering

import (
	"context"
	"sync"

	"github.com/FerroO2000/bytering/connector"
	"github.com/FerroO2000/bytering/internal"
)

// Stage defines the interface for a generic stage.
type Stage interface {
	// Init initializes the stage.
	Init(ctx context.Context) error
	// Run runs the stage.
	Run(ctx context.Context)
	// Close closes (forever) the stage.
	Close()
}

// RingBuffer is the byte ring buffer shared by the stages of a pipeline.
type RingBuffer = connector.RingBuffer

// NewRingBuffer returns a ring buffer initialized with the given capacity.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	return connector.NewRingBuffer(capacity)
}

// Pipeline runs producer stages writing into a ring buffer
// and consumer stages reading from it.
type Pipeline struct {
	tel *internal.Telemetry

	buffer *RingBuffer

	producers []Stage
	consumers []Stage

	producerWg      *sync.WaitGroup
	consumerWg      *sync.WaitGroup
	cancelProducers context.CancelFunc
	cancelConsumers context.CancelFunc

	isRunning bool
	closeOnce sync.Once
}

// NewPipeline returns a new pipeline built around the given ring buffer.
func NewPipeline(buffer *RingBuffer) *Pipeline {
	return &Pipeline{
		tel: internal.NewTelemetry("pipeline", "ring_buffer"),

		buffer: buffer,

		producers: []Stage{},
		consumers: []Stage{},

		producerWg: &sync.WaitGroup{},
		consumerWg: &sync.WaitGroup{},
	}
}

// Buffer returns the ring buffer of the pipeline.
func (p *Pipeline) Buffer() *RingBuffer {
	return p.buffer
}

// AddProducer adds a stage writing into the ring buffer.
func (p *Pipeline) AddProducer(stage Stage) {
	if p.isRunning {
		return
	}

	p.producers = append(p.producers, stage)
}

// AddConsumer adds a stage reading from the ring buffer.
func (p *Pipeline) AddConsumer(stage Stage) {
	if p.isRunning {
		return
	}

	p.consumers = append(p.consumers, stage)
}

// Init initializes all the stages, consumers first.
func (p *Pipeline) Init(ctx context.Context) error {
	p.tel.LogInfo("initializing",
		"capacity", p.buffer.Cap(), "producers", len(p.producers), "consumers", len(p.consumers))

	p.initMetrics()

	for _, stage := range p.consumers {
		if err := stage.Init(ctx); err != nil {
			return err
		}
	}

	for _, stage := range p.producers {
		if err := stage.Init(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) initMetrics() {
	p.tel.NewCounter("ring_buffer_bytes_written", func() int64 { return int64(p.buffer.Stats().BytesWritten) })
	p.tel.NewCounter("ring_buffer_bytes_read", func() int64 { return int64(p.buffer.Stats().BytesRead) })
	p.tel.NewCounter("ring_buffer_bytes_dropped", func() int64 { return int64(p.buffer.Stats().BytesDropped) })
	p.tel.NewCounter("ring_buffer_short_writes", func() int64 { return int64(p.buffer.Stats().ShortWrites) })
	p.tel.NewCounter("ring_buffer_read_timeouts", func() int64 { return int64(p.buffer.Stats().ReadTimeouts) })
	p.tel.NewUpDownCounter("ring_buffer_occupancy", func() int64 { return int64(p.buffer.Len()) })
}

// Run runs all the stages.
// It will spawn a goroutine for each stage.
//
// Cancelling ctx stops the producers only, the consumers keep
// reading until Close drains the ring buffer.
func (p *Pipeline) Run(ctx context.Context) {
	p.isRunning = true

	p.tel.LogInfo("running")

	producerCtx, cancelProducers := context.WithCancel(ctx)
	consumerCtx, cancelConsumers := context.WithCancel(context.WithoutCancel(ctx))

	p.cancelProducers = cancelProducers
	p.cancelConsumers = cancelConsumers

	runStages(consumerCtx, p.consumers, p.consumerWg)
	runStages(producerCtx, p.producers, p.producerWg)
}

func runStages(ctx context.Context, stages []Stage, wg *sync.WaitGroup) {
	wg.Add(len(stages))

	for _, stage := range stages {
		go func() {
			defer wg.Done()
			stage.Run(ctx)
		}()
	}
}

// Close closes all the stages. It blocks until all the stages are closed.
//
// The producers are stopped first, then the ring buffer is closed
// so the consumers drain what is left in it before stopping.
func (p *Pipeline) Close() {
	p.closeOnce.Do(p.close)
}

func (p *Pipeline) close() {
	p.tel.LogInfo("closing")

	if p.cancelProducers != nil {
		p.cancelProducers()
	}

	for _, stage := range p.producers {
		stage.Close()
	}
	p.producerWg.Wait()

	// Wake up the consumers, they stop once the ring buffer is empty
	p.buffer.Close()
	p.consumerWg.Wait()

	if p.cancelConsumers != nil {
		p.cancelConsumers()
	}

	for _, stage := range p.consumers {
		stage.Close()
	}

	stats := p.buffer.Stats()
	p.tel.LogInfo("closed",
		"bytes_written", stats.BytesWritten, "bytes_read", stats.BytesRead, "bytes_dropped", stats.BytesDropped)
}

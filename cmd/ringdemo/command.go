package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/FerroO2000/bytering"
	"github.com/FerroO2000/bytering/egress"
	"github.com/FerroO2000/bytering/ingress"
	"github.com/FerroO2000/bytering/internal/telemetry"
	"github.com/spf13/cobra"
)

const serviceName = "ringdemo"

var errUnknownSink = errors.New("unknown sink")

type options struct {
	capacity int

	readMode egress.ReadMode
	timeout  time.Duration
	readSize int

	interval     time.Duration
	watch        string
	udpPort      uint16
	kafkaInTopic string

	sink    string
	out     string
	brokers []string
	topic   string
	udpOut  string

	otelEndpoint string
	logLevel     string
}

func newOptions() *options {
	return &options{
		capacity: 1024,
		readMode: egress.ReadModeBlocking,
		timeout:  egress.DefaultConsumerConfigReadTimeout,
		readSize: egress.DefaultConsumerConfigReadSize,
		interval: ingress.DefaultTickerConfigInterval,
		sink:     "hex",
		out:      egress.DefaultFileSinkConfigPath,
		brokers:  ingress.DefaultKafkaConfigBrokers,
		topic:    egress.DefaultKafkaSinkConfigTopic,
		udpOut:   net.JoinHostPort(egress.DefaultUDPSinkConfigIPAddr, strconv.Itoa(egress.DefaultUDPSinkConfigPort)),
		logLevel: "info",
	}
}

func newRootCommand() *cobra.Command {
	opts := newOptions()

	cmd := &cobra.Command{
		Use:   "ringdemo [b|n]",
		Short: "Run producers and consumers around a shared byte ring buffer",
		Long: `Run producers and consumers around a shared byte ring buffer.

The optional argument selects the read mode of the consumer:
'b' blocks until data is available, 'n' waits at most --timeout.
The command runs until it receives SIGINT or SIGTERM.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				mode, err := egress.ParseReadMode(args[0])
				if err != nil {
					return err
				}
				opts.readMode = mode
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()

	flags.IntVar(&opts.capacity, "capacity", opts.capacity, "capacity of the ring buffer in bytes")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "longest wait of a read in 'n' mode")
	flags.IntVar(&opts.readSize, "read-size", opts.readSize, "maximum number of bytes read at once")

	flags.DurationVar(&opts.interval, "interval", opts.interval, "interval of the ticker producer, 0 disables it")
	flags.StringVar(&opts.watch, "watch", opts.watch, "file followed by a file producer")
	flags.Uint16Var(&opts.udpPort, "udp-port", opts.udpPort, "port of a UDP producer, 0 disables it")
	flags.StringVar(&opts.kafkaInTopic, "kafka-in-topic", opts.kafkaInTopic, "topic consumed by a Kafka producer")

	flags.StringVar(&opts.sink, "sink", opts.sink, "destination of the chunks read: hex, file, kafka, udp or discard")
	flags.StringVar(&opts.out, "out", opts.out, "path of the file sink")
	flags.StringSliceVar(&opts.brokers, "brokers", opts.brokers, "Kafka brokers")
	flags.StringVar(&opts.topic, "topic", opts.topic, "topic of the Kafka sink")
	flags.StringVar(&opts.udpOut, "udp-out", opts.udpOut, "destination address of the UDP sink")

	flags.StringVar(&opts.otelEndpoint, "otel-endpoint", opts.otelEndpoint, "OTLP gRPC collector, empty disables the export")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn or error")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// The console logger must be installed before creating the stages
	telemetry.SetupConsoleLogger(level)

	if opts.otelEndpoint != "" {
		otelCfg := telemetry.DefaultConfig(serviceName)
		otelCfg.Endpoint = opts.otelEndpoint

		providers, err := telemetry.Init(ctx, otelCfg)
		if err != nil {
			return err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := providers.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shut down telemetry", "error", err)
			}
		}()
	}

	buffer, err := bytering.NewRingBuffer(opts.capacity)
	if err != nil {
		return fmt.Errorf("init ring buffer failed: %w", err)
	}
	defer buffer.Destroy()

	slog.Info("init ring buffer success", "capacity", buffer.Cap())

	pipeline, err := buildPipeline(buffer, opts)
	if err != nil {
		return err
	}

	if err := pipeline.Init(ctx); err != nil {
		return err
	}

	pipeline.Run(ctx)

	<-ctx.Done()

	pipeline.Close()

	return nil
}

func buildPipeline(buffer *bytering.RingBuffer, opts *options) (*bytering.Pipeline, error) {
	pipeline := bytering.NewPipeline(buffer)

	// Consumer
	sink, err := newSink(opts)
	if err != nil {
		return nil, err
	}

	consumerCfg := egress.NewConsumerConfig()
	consumerCfg.ReadMode = opts.readMode
	consumerCfg.ReadTimeout = opts.timeout
	consumerCfg.ReadSize = opts.readSize

	pipeline.AddConsumer(egress.NewConsumerStage(buffer, sink, consumerCfg))

	// Producers
	if opts.interval > 0 {
		tickerCfg := ingress.NewTickerConfig()
		tickerCfg.Interval = opts.interval

		pipeline.AddProducer(ingress.NewTickerStage(buffer, tickerCfg))
	}

	if opts.watch != "" {
		fileCfg := ingress.NewFileConfig()
		fileCfg.Path = opts.watch

		pipeline.AddProducer(ingress.NewFileStage(buffer, fileCfg))
	}

	if opts.udpPort != 0 {
		udpCfg := ingress.NewUDPConfig()
		udpCfg.Port = opts.udpPort

		pipeline.AddProducer(ingress.NewUDPStage(buffer, udpCfg))
	}

	if opts.kafkaInTopic != "" {
		kafkaCfg := ingress.NewKafkaConfig(opts.kafkaInTopic)
		kafkaCfg.Brokers = opts.brokers

		pipeline.AddProducer(ingress.NewKafkaStage(buffer, kafkaCfg))
	}

	return pipeline, nil
}

func newSink(opts *options) (egress.Sink, error) {
	switch opts.sink {
	case "hex":
		return egress.NewHexSink(os.Stdout, opts.readMode), nil

	case "file":
		return egress.NewFileSink(egress.NewFileSinkConfig(opts.out)), nil

	case "kafka":
		kafkaCfg := egress.NewKafkaSinkConfig(opts.topic)
		kafkaCfg.Brokers = opts.brokers

		return egress.NewKafkaSink(kafkaCfg), nil

	case "udp":
		addrPort, err := netip.ParseAddrPort(opts.udpOut)
		if err != nil {
			return nil, fmt.Errorf("invalid UDP destination: %w", err)
		}

		udpCfg := egress.NewUDPSinkConfig()
		udpCfg.IPAddr = addrPort.Addr().String()
		udpCfg.Port = addrPort.Port()

		return egress.NewUDPSink(udpCfg), nil

	case "discard":
		return egress.NewDiscardSink(), nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownSink, opts.sink)
	}
}

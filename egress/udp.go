package egress

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/FerroO2000/bytering/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP sink configuration.
const (
	DefaultUDPSinkConfigIPAddr = "127.0.0.1"
	DefaultUDPSinkConfigPort   = 20_000
)

// UDPSinkConfig structs contains the configuration for the UDP sink.
type UDPSinkConfig struct {
	// IPAddr is the destination IP address.
	//
	// Default: 127.0.0.1
	IPAddr string

	// Port is the destination port.
	//
	// Default: 20000
	Port uint16
}

// NewUDPSinkConfig returns the default configuration for the UDP sink.
func NewUDPSinkConfig() *UDPSinkConfig {
	return &UDPSinkConfig{
		IPAddr: DefaultUDPSinkConfigIPAddr,
		Port:   DefaultUDPSinkConfigPort,
	}
}

// Validate checks the configuration.
func (c *UDPSinkConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultUDPSinkConfigIPAddr)
	config.CheckPositive(ac, "Port", &c.Port, DefaultUDPSinkConfigPort)
}

////////////
//  SINK  //
////////////

var _ Sink = (*UDPSink)(nil)

// UDPSink is a sink that sends every chunk as a UDP datagram.
type UDPSink struct {
	sinkBase

	cfg *UDPSinkConfig

	conn *net.UDPConn

	// Metrics
	deliveredBytes atomic.Int64
}

// NewUDPSink returns a new UDP sink.
func NewUDPSink(cfg *UDPSinkConfig) *UDPSink {
	return &UDPSink{
		cfg: cfg,
	}
}

// Name returns the name of the sink.
func (us *UDPSink) Name() string { return "udp" }

// Init dials the destination.
func (us *UDPSink) Init(_ context.Context) error {
	us.validate(us.cfg)

	// Parse the IP address
	parsedAddr, err := netip.ParseAddr(us.cfg.IPAddr)
	if err != nil {
		return err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, us.cfg.Port))

	// Dial the UDP connection
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}

	us.conn = conn

	us.tel.NewCounter("delivered_bytes", func() int64 { return us.deliveredBytes.Load() })

	return nil
}

// Deliver sends the chunk.
func (us *UDPSink) Deliver(ctx context.Context, chunk []byte) error {
	_, span := us.tel.NewTrace(ctx, "deliver UDP datagram")
	defer span.End()

	deliveredBytes, err := us.conn.Write(chunk)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("payload_size", len(chunk)))

	us.deliveredBytes.Add(int64(deliveredBytes))

	return nil
}

// Close closes the connection.
func (us *UDPSink) Close(_ context.Context) error {
	if us.conn == nil {
		return nil
	}
	return us.conn.Close()
}

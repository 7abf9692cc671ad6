package ingress

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/FerroO2000/bytering/internal"
	"github.com/FerroO2000/bytering/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

const (
	udpPayloadSize = 1474
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP stage configuration.
const (
	DefaultUDPConfigIPAddr = "0.0.0.0"
	DefaultUDPConfigPort   = 20_000
)

// UDPConfig structs contains the configuration for the UDP stage.
type UDPConfig struct {
	// IPAddr is the IP address to listen on.
	//
	// Default: 0.0.0.0
	IPAddr string

	// Port is the port to listen on. If 0, a free port is picked.
	//
	// Default: 20000
	Port uint16
}

// NewUDPConfig returns the default configuration for the UDP stage.
func NewUDPConfig() *UDPConfig {
	return &UDPConfig{
		IPAddr: DefaultUDPConfigIPAddr,
		Port:   DefaultUDPConfigPort,
	}
}

// Validate checks the configuration.
func (c *UDPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultUDPConfigIPAddr)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*udpSource)(nil)

type udpSource struct {
	tel *internal.Telemetry

	conn *net.UDPConn

	// Metrics
	receivedDatagrams atomic.Int64
	receivedBytes     atomic.Int64
}

func newUDPSource() *udpSource {
	return &udpSource{}
}

func (us *udpSource) setTelemetry(tel *internal.Telemetry) {
	us.tel = tel
}

func (us *udpSource) init(ipAddr string, port uint16) error {
	parsedAddr, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return err
	}

	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, port))
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	us.conn = conn

	us.tel.NewCounter("received_datagrams", func() int64 { return us.receivedDatagrams.Load() })
	us.tel.NewCounter("received_bytes", func() int64 { return us.receivedBytes.Load() })

	return nil
}

func (us *udpSource) run(ctx context.Context, w *writer) {
	// Unblock the read when the context is done
	stopClose := context.AfterFunc(ctx, us.close)
	defer stopClose()

	buf := make([]byte, udpPayloadSize)

	for {
		n, err := us.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			us.tel.LogError("failed to read connection", err)
			return
		}

		if stop := us.handleDatagram(ctx, w, buf[:n]); stop {
			return
		}
	}
}

// handleDatagram writes the payload of a datagram
// and returns whether the source must stop.
func (us *udpSource) handleDatagram(ctx context.Context, w *writer, payload []byte) bool {
	ctx, span := us.tel.NewTrace(ctx, "receive UDP datagram")
	defer span.End()

	payloadSize := len(payload)
	span.SetAttributes(attribute.Int("payload_size", payloadSize))

	us.receivedDatagrams.Add(1)
	us.receivedBytes.Add(int64(payloadSize))

	if _, err := w.writeAll(ctx, payload); err != nil {
		if isClosed(err) {
			us.tel.LogInfo("ring buffer closed, stopping")
		} else {
			us.tel.LogError("failed to write datagram to ring buffer", err)
		}
		return true
	}

	return false
}

func (us *udpSource) localAddr() net.Addr {
	if us.conn == nil {
		return nil
	}
	return us.conn.LocalAddr()
}

func (us *udpSource) close() {
	if us.conn == nil {
		return
	}

	if err := us.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		us.tel.LogError("failed to close connection", err)
	}
}

/////////////
//  STAGE  //
/////////////

// UDPStage is an ingress stage that writes the payload
// of the received UDP datagrams into the ring buffer.
type UDPStage struct {
	*stage[*UDPConfig]

	source *udpSource
}

// NewUDPStage returns a new UDP stage.
func NewUDPStage(outputConnector conn, cfg *UDPConfig) *UDPStage {
	source := newUDPSource()

	return &UDPStage{
		stage: newStage("udp", source, outputConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (us *UDPStage) Init(ctx context.Context) error {
	if err := us.stage.Init(ctx); err != nil {
		return err
	}

	return us.source.init(us.cfg.IPAddr, us.cfg.Port)
}

// LocalAddr returns the address the stage listens on, nil before Init.
func (us *UDPStage) LocalAddr() net.Addr {
	return us.source.localAddr()
}

// Close closes the stage.
func (us *UDPStage) Close() {
	us.stage.Close()
	us.source.close()
}

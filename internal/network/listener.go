package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/oscstack/internal/monitoring"
)

// DefaultMaxDatagramSize is the largest UDP payload over IPv4.
const DefaultMaxDatagramSize = 65507

// ErrDatagramTooLarge reports a datagram longer than the configured maximum.
var ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")

// DatagramHandler receives whole datagrams. data is only valid for the
// duration of the call; handlers that keep it must copy.
type DatagramHandler interface {
	HandleDatagram(data []byte, from net.Addr)
}

// DatagramHandlerFunc adapts a function to DatagramHandler.
type DatagramHandlerFunc func(data []byte, from net.Addr)

func (f DatagramHandlerFunc) HandleDatagram(data []byte, from net.Addr) { f(data, from) }

// Source produces datagrams until ctx is cancelled or the input ends.
type Source interface {
	Serve(ctx context.Context, h DatagramHandler) error
}

// Stats receives transport-level counts.
type Stats interface {
	AddDatagram(bytes int)
	AddReceiveError()
	AddOversize()
}

type noopStats struct{}

func (noopStats) AddDatagram(int)    {}
func (noopStats) AddReceiveError()   {}
func (noopStats) AddOversize()       {}
func (noopStats) AddForwardDropped() {}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address         string
	RcvBuf          int
	MaxDatagramSize int
	Stats           Stats
	// Forwarder, when set, mirrors every accepted datagram.
	Forwarder     *PacketForwarder
	SocketFactory UDPSocketFactory
	Logger        *slog.Logger
}

// UDPListener reads datagrams from a UDP socket and hands each one to a
// DatagramHandler on the receive goroutine.
type UDPListener struct {
	address   string
	rcvBuf    int
	maxSize   int
	stats     Stats
	forwarder *PacketForwarder
	factory   UDPSocketFactory
	log       *slog.Logger

	readWarn *monitoring.Throttle
	sizeWarn *monitoring.Throttle

	mu   sync.Mutex
	sock UDPSocket
}

// NewUDPListener creates a listener. Nothing is bound until Bind or Serve.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	var stats Stats = noopStats{}
	if cfg.Stats != nil {
		stats = cfg.Stats
	}
	maxSize := cfg.MaxDatagramSize
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagramSize
	}
	factory := cfg.SocketFactory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}
	log := cfg.Logger
	if log == nil {
		log = monitoring.Logger()
	}

	return &UDPListener{
		address:   cfg.Address,
		rcvBuf:    cfg.RcvBuf,
		maxSize:   maxSize,
		stats:     stats,
		forwarder: cfg.Forwarder,
		factory:   factory,
		log:       log.With("component", "udp"),
		readWarn:  monitoring.NewThrottle(10 * time.Second),
		sizeWarn:  monitoring.NewThrottle(10 * time.Second),
	}
}

// Bind opens the socket if it is not already open and returns its local
// address. Binding ":0" and reading the result is how callers learn the port.
func (l *UDPListener) Bind() (net.Addr, error) {
	sock, err := l.bind()
	if err != nil {
		return nil, err
	}
	return sock.LocalAddr(), nil
}

func (l *UDPListener) bind() (UDPSocket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock != nil {
		return l.sock, nil
	}

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := l.factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := sock.SetReadBuffer(l.rcvBuf); err != nil {
			l.log.Warn("failed to set UDP receive buffer", "bytes", l.rcvBuf, "error", err)
		}
	}
	l.sock = sock
	return sock, nil
}

// Addr returns the bound address, or nil before Bind.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock == nil {
		return nil
	}
	return l.sock.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled or the socket is
// closed. It returns nil on a clean shutdown. The socket is closed on return.
func (l *UDPListener) Serve(ctx context.Context, h DatagramHandler) error {
	sock, err := l.bind()
	if err != nil {
		return err
	}
	defer l.Close()

	l.log.Info("UDP listener started", "address", sock.LocalAddr().String(), "receive_buffer", l.rcvBuf, "max_datagram", l.maxSize)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	// One extra byte detects datagrams longer than the limit.
	buf := make([]byte, l.maxSize+1)
	for {
		if ctx.Err() != nil {
			l.log.Info("UDP listener stopping")
			return nil
		}

		if err := sock.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			l.readWarn.Do(func(suppressed int64) {
				l.log.Warn("failed to set read deadline", "error", err, "suppressed", suppressed)
			})
		}

		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.stats.AddReceiveError()
			l.readWarn.Do(func(suppressed int64) {
				l.log.Warn("UDP read error", "error", err, "suppressed", suppressed)
			})
			continue
		}

		if n > l.maxSize {
			l.stats.AddOversize()
			l.sizeWarn.Do(func(suppressed int64) {
				l.log.Warn("dropping datagram", "error", ErrDatagramTooLarge, "from", from, "max", l.maxSize, "suppressed", suppressed)
			})
			continue
		}

		l.stats.AddDatagram(n)
		if l.forwarder != nil {
			l.forwarder.ForwardAsync(buf[:n])
		}
		var src net.Addr
		if from != nil {
			src = from
		}
		h.HandleDatagram(buf[:n], src)
	}
}

// Close closes the socket, which also ends a running Serve.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock == nil {
		return nil
	}
	err := l.sock.Close()
	l.sock = nil
	return err
}

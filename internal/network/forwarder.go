package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/oscstack/internal/monitoring"
)

// ForwardStats counts datagrams the forwarder could not deliver.
type ForwardStats interface {
	AddForwardDropped()
}

// PacketForwarder mirrors datagrams to another UDP address without blocking
// the receive loop. When its queue is full the datagram is dropped.
type PacketForwarder struct {
	conn        *net.UDPConn
	queue       chan []byte
	stats       ForwardStats
	log         *slog.Logger
	logInterval time.Duration
	address     string

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewPacketForwarder dials address and returns a forwarder for it. stats and
// log may be nil.
func NewPacketForwarder(address string, stats ForwardStats, log *slog.Logger, logInterval time.Duration) (*PacketForwarder, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if stats == nil {
		stats = noopStats{}
	}
	if log == nil {
		log = monitoring.Logger()
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		queue:       make(chan []byte, 1000),
		stats:       stats,
		log:         log.With("component", "forwarder"),
		logInterval: logInterval,
		address:     address,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the send goroutine. Calling it more than once is harmless.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started || f.closed {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go f.run(ctx)
	f.log.Info("forwarding datagrams", "address", f.address)
}

func (f *PacketForwarder) run(ctx context.Context) {
	defer close(f.done)

	failed := 0
	var lastErr error
	ticker := time.NewTicker(f.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-f.queue:
			if !ok {
				return
			}
			if _, err := f.conn.Write(packet); err != nil {
				failed++
				lastErr = err
				f.stats.AddForwardDropped()
			}
		case <-ticker.C:
			if failed > 0 {
				f.log.Warn("forwarded datagrams failed", "count", failed, "latest_error", lastErr)
				failed = 0
				lastErr = nil
			}
		}
	}
}

// ForwardAsync queues a copy of packet. It never blocks.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- append([]byte(nil), packet...):
	default:
		f.stats.AddForwardDropped()
	}
}

// Close stops the forwarder and closes its connection. Datagrams still
// queued are sent first if the send goroutine is running.
func (f *PacketForwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	close(f.queue)
	f.mu.Unlock()

	if started {
		<-f.done
	}
	return f.conn.Close()
}

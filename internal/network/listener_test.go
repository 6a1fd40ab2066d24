package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// recordingStats implements Stats and ForwardStats for tests.
type recordingStats struct {
	mu             sync.Mutex
	datagrams      int
	bytes          int
	receiveErrors  int
	oversize       int
	forwardDropped int
}

func (s *recordingStats) AddDatagram(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datagrams++
	s.bytes += n
}

func (s *recordingStats) AddReceiveError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveErrors++
}

func (s *recordingStats) AddOversize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oversize++
}

func (s *recordingStats) AddForwardDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardDropped++
}

type received struct {
	data []byte
	from net.Addr
}

// collector is a DatagramHandler that copies every datagram onto a channel.
func collector(n int) (DatagramHandler, <-chan received) {
	ch := make(chan received, n)
	return DatagramHandlerFunc(func(data []byte, from net.Addr) {
		ch <- received{data: append([]byte(nil), data...), from: from}
	}), ch
}

func waitFor(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
		return received{}
	}
}

func TestNewUDPListener_Defaults(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: ":7400"})
	if l.maxSize != DefaultMaxDatagramSize {
		t.Errorf("maxSize = %d, want %d", l.maxSize, DefaultMaxDatagramSize)
	}
	if _, ok := l.stats.(noopStats); !ok {
		t.Errorf("expected noop stats, got %T", l.stats)
	}
	if _, ok := l.factory.(*RealUDPSocketFactory); !ok {
		t.Errorf("expected real socket factory, got %T", l.factory)
	}
	if l.Addr() != nil {
		t.Error("Addr should be nil before Bind")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close before Bind: %v", err)
	}
}

func TestUDPListener_ServeMock(t *testing.T) {
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 57120}
	sock := NewMockUDPSocket(
		MockUDPPacket{Data: []byte("first"), Addr: src},
		MockUDPPacket{Data: make([]byte, 40), Addr: src},
		MockUDPPacket{Data: []byte("third"), Addr: nil},
	)
	factory := NewMockUDPSocketFactory(sock)
	stats := &recordingStats{}

	l := NewUDPListener(UDPListenerConfig{
		Address:         "127.0.0.1:7400",
		RcvBuf:          4096,
		MaxDatagramSize: 32,
		Stats:           stats,
		SocketFactory:   factory,
	})

	h, ch := collector(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, h) }()

	first := waitFor(t, ch)
	if string(first.data) != "first" {
		t.Errorf("first datagram = %q", first.data)
	}
	if first.from.String() != src.String() {
		t.Errorf("from = %v, want %v", first.from, src)
	}

	// The 40 byte datagram exceeds the limit and is skipped.
	third := waitFor(t, ch)
	if string(third.data) != "third" {
		t.Errorf("second delivered datagram = %q, want third", third.data)
	}
	if third.from != nil {
		t.Errorf("from = %#v, want untyped nil", third.from)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}

	if !sock.Closed() {
		t.Error("socket should be closed after Serve returns")
	}
	if sock.ReadBufferSize() != 4096 {
		t.Errorf("read buffer = %d, want 4096", sock.ReadBufferSize())
	}
	if len(factory.ListenCalls) != 1 || factory.ListenCalls[0].Port != 7400 {
		t.Errorf("ListenCalls = %v", factory.ListenCalls)
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.datagrams != 2 || stats.bytes != 10 {
		t.Errorf("datagrams=%d bytes=%d, want 2 and 10", stats.datagrams, stats.bytes)
	}
	if stats.oversize != 1 {
		t.Errorf("oversize = %d, want 1", stats.oversize)
	}
}

func TestUDPListener_ReadErrorsContinue(t *testing.T) {
	sock := NewMockUDPSocket()
	sock.FailNextRead(errors.New("connection refused"))
	sock.Queue(MockUDPPacket{Data: []byte("after")})
	stats := &recordingStats{}

	l := NewUDPListener(UDPListenerConfig{
		Address:       "127.0.0.1:7400",
		Stats:         stats,
		SocketFactory: NewMockUDPSocketFactory(sock),
	})
	h, ch := collector(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, h) }()

	if got := waitFor(t, ch); string(got.data) != "after" {
		t.Errorf("got %q", got.data)
	}
	cancel()
	<-done

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if stats.receiveErrors != 1 {
		t.Errorf("receiveErrors = %d, want 1", stats.receiveErrors)
	}
}

func TestUDPListener_CloseEndsServe(t *testing.T) {
	sock := NewMockUDPSocket()
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:7400", SocketFactory: NewMockUDPSocketFactory(sock)})
	if _, err := l.Bind(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background(), DatagramHandlerFunc(func([]byte, net.Addr) {})) }()

	time.Sleep(10 * time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestUDPListener_BindErrors(t *testing.T) {
	factory := NewMockUDPSocketFactory(nil)
	factory.Error = errors.New("address in use")
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:7400", SocketFactory: factory})
	if err := l.Serve(context.Background(), DatagramHandlerFunc(func([]byte, net.Addr) {})); err == nil {
		t.Error("expected listen error")
	}

	l = NewUDPListener(UDPListenerConfig{Address: "not an address"})
	if _, err := l.Bind(); err == nil {
		t.Error("expected resolve error")
	}
}

func TestUDPListener_Loopback(t *testing.T) {
	l := NewUDPListener(UDPListenerConfig{Address: "127.0.0.1:0"})
	addr, err := l.Bind()
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	h, ch := collector(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, h) }()

	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("/ping\x00\x00\x00")); err != nil {
		t.Fatal(err)
	}

	got := waitFor(t, ch)
	if string(got.data) != "/ping\x00\x00\x00" {
		t.Errorf("got %q", got.data)
	}
	if got.from.String() != conn.LocalAddr().String() {
		t.Errorf("from = %v, want %v", got.from, conn.LocalAddr())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
}

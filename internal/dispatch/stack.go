// Package dispatch routes decoded OSC packets to registered handlers.
//
// Messages are routed by exact address. Bundles are read as tagged bundles
// and routed by tag, unless the tag has been marked for funneling, in which
// case each content packet is routed on its own as if it had arrived alone.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/oscstack/internal/config"
	"github.com/banshee-data/oscstack/internal/monitoring"
	"github.com/banshee-data/oscstack/internal/network"
	"github.com/banshee-data/oscstack/internal/osc"
	"github.com/banshee-data/oscstack/internal/tagged"
	"github.com/banshee-data/oscstack/internal/timeutil"
)

// DefaultMaxFunnelDepth bounds how many funneled bundles may nest.
const DefaultMaxFunnelDepth = 32

var (
	ErrRunning        = errors.New("dispatch: cannot register handlers while running")
	ErrAlreadyRunning = errors.New("dispatch: stack already started")
	ErrFunnelDepth    = errors.New("dispatch: funneled bundles nested too deep")
)

// Config configures a Stack.
type Config struct {
	// Address is the UDP endpoint Run binds, host:port.
	Address         string
	RcvBuf          int
	MaxDatagramSize int
	MaxFunnelDepth  int
	// TimeEncoding selects the wire encoding OnTimed accepts.
	TimeEncoding tagged.TimeEncoding
	// StatsInterval is how often counters are logged while running. Zero
	// disables periodic stats logging.
	StatsInterval time.Duration

	Stats         *monitoring.Stats
	Logger        *slog.Logger
	SocketFactory network.UDPSocketFactory
	Forwarder     *network.PacketForwarder
	Clock         timeutil.Clock
}

// ConfigFrom maps file configuration onto a stack Config. Stats, logger,
// socket factory and forwarder are left for the caller.
func ConfigFrom(c *config.Config) (Config, error) {
	enc, err := tagged.ParseTimeEncoding(c.TimedTimeEncoding)
	if err != nil {
		return Config{}, err
	}
	every, err := c.StatsEvery()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Address:         c.Listen,
		RcvBuf:          c.ReceiveBuffer,
		MaxDatagramSize: c.MaxDatagramSize,
		MaxFunnelDepth:  c.MaxFunnelDepth,
		TimeEncoding:    enc,
		StatsInterval:   every,
	}, nil
}

// Stack holds the dispatch table and drives a datagram source.
//
// Handlers are registered while the stack is configuring. Run or Serve moves
// it to running, after which the table is fixed and registration fails with
// ErrRunning. There is no way back.
type Stack struct {
	cfg   Config
	stats *monitoring.Stats
	log   *slog.Logger

	decodeWarn   *monitoring.Throttle
	bundleWarn   *monitoring.Throttle
	overflowWarn *monitoring.Throttle
	panicWarn    *monitoring.Throttle

	mu       sync.Mutex
	running  bool
	runID    string
	messages map[string]MessageHandler
	bundles  map[string]BundleHandler
	funnels  map[string]struct{}
}

// New creates a configuring Stack.
func New(cfg Config) *Stack {
	if cfg.MaxFunnelDepth <= 0 {
		cfg.MaxFunnelDepth = DefaultMaxFunnelDepth
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = network.DefaultMaxDatagramSize
	}
	stats := cfg.Stats
	if stats == nil {
		stats = monitoring.NewStats()
	}
	log := cfg.Logger
	if log == nil {
		log = monitoring.Logger()
	}

	return &Stack{
		cfg:          cfg,
		stats:        stats,
		log:          log.With("component", "dispatch"),
		decodeWarn:   monitoring.NewThrottle(10 * time.Second),
		bundleWarn:   monitoring.NewThrottle(10 * time.Second),
		overflowWarn: monitoring.NewThrottle(10 * time.Second),
		panicWarn:    monitoring.NewThrottle(10 * time.Second),
		messages:     make(map[string]MessageHandler),
		bundles:      make(map[string]BundleHandler),
		funnels:      make(map[string]struct{}),
	}
}

// Stats returns the counters the stack records into.
func (s *Stack) Stats() *monitoring.Stats { return s.stats }

// Running reports whether Run or Serve has been called.
func (s *Stack) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunID identifies the current run in logs. It is empty until started.
func (s *Stack) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// OnMessage registers h for messages addressed exactly to address. A later
// registration for the same address replaces the earlier one.
func (s *Stack) OnMessage(address string, h MessageHandler) error {
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %s", address)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.messages[address] = h
	return nil
}

// OnTaggedBundle registers h for tagged bundles with the given tag. A later
// registration for the same tag replaces the earlier one. If the tag is also
// funneled, h is never called.
func (s *Stack) OnTaggedBundle(tag string, h BundleHandler) error {
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for bundle %q", tag)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.bundles[tag] = h
	return nil
}

// Funnel marks tag so that bundles carrying it are unpacked and each content
// packet is interpreted independently, in order.
func (s *Stack) Funnel(tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.funnels[tag] = struct{}{}
	return nil
}

// OnTimed registers h for timed_msg bundles, decoding the time with the
// configured encoding. Bundles that fail to decode are logged and dropped.
func (s *Stack) OnTimed(h TimedHandler) error {
	if h == nil {
		return errors.New("dispatch: nil timed handler")
	}
	enc := s.cfg.TimeEncoding
	return s.OnTaggedBundle(tagged.TimedTag, BundleHandlerFunc(func(b tagged.Bundle) {
		p, err := tagged.ParseTimed(b, enc)
		if err != nil {
			s.malformed(err)
			return
		}
		h.HandleTimed(p)
	}))
}

// Routes lists what is registered, sorted, for diagnostics.
type Routes struct {
	Messages []string `json:"messages"`
	Bundles  []string `json:"bundles"`
	Funnels  []string `json:"funnels"`
}

// Routes returns a snapshot of the dispatch table.
func (s *Stack) Routes() Routes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Routes{
		Messages: sortedKeys(s.messages),
		Bundles:  sortedKeys(s.bundles),
		Funnels:  sortedKeys(s.funnels),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Sorted(maps.Keys(m))
	if keys == nil {
		keys = []string{}
	}
	return keys
}

type pending struct {
	packet osc.Packet
	depth  int
}

// Interpret routes one packet. Handlers run synchronously on the calling
// goroutine.
//
// Funneled bundles are expanded with an explicit work stack rather than
// recursion. A funneled bundle nested more than MaxFunnelDepth funnels deep is
// dropped with a warning; its siblings are still interpreted.
func (s *Stack) Interpret(p osc.Packet) {
	work := []pending{{packet: p}}
	for len(work) > 0 {
		next := work[len(work)-1]
		work = work[:len(work)-1]

		switch pkt := next.packet.(type) {
		case osc.Message:
			s.dispatchMessage(pkt)

		case osc.Bundle:
			tb, err := tagged.Parse(pkt)
			if err != nil {
				s.malformed(err)
				continue
			}
			if _, ok := s.funnels[tb.Tag]; !ok {
				s.dispatchBundle(tb)
				continue
			}
			if next.depth >= s.cfg.MaxFunnelDepth {
				s.stats.AddFunnelOverflow()
				s.overflowWarn.Do(func(suppressed int64) {
					s.log.Warn("dropping funneled bundle", "error", ErrFunnelDepth, "tag", tb.Tag, "max_depth", s.cfg.MaxFunnelDepth, "suppressed", suppressed)
				})
				continue
			}
			s.stats.AddFunneled()
			// Reverse so the first content is popped first.
			for i := len(tb.Contents) - 1; i >= 0; i-- {
				work = append(work, pending{packet: tb.Contents[i], depth: next.depth + 1})
			}
		}
	}
}

func (s *Stack) dispatchMessage(m osc.Message) {
	h, ok := s.messages[m.Address]
	if !ok {
		s.stats.AddUnrouted()
		return
	}
	s.invoke("message", m.Address, func() { h.HandleMessage(m) })
}

func (s *Stack) dispatchBundle(b tagged.Bundle) {
	h, ok := s.bundles[b.Tag]
	if !ok {
		s.stats.AddUnrouted()
		return
	}
	s.invoke("bundle", b.Tag, func() { h.HandleBundle(b) })
}

// invoke runs a handler, timing it and containing any panic so that one
// faulty handler does not stop the receive loop.
func (s *Stack) invoke(kind, key string, call func()) {
	s.stats.AddDispatched()
	start := time.Now()
	defer func() {
		s.stats.ObserveHandler(time.Since(start))
		if r := recover(); r != nil {
			s.stats.AddHandlerPanic()
			s.panicWarn.Do(func(suppressed int64) {
				s.log.Error("handler panicked", "kind", kind, "key", key, "panic", r, "stack", string(debug.Stack()), "suppressed", suppressed)
			})
		}
	}()
	call()
}

func (s *Stack) malformed(err error) {
	s.stats.AddMalformedBundle()
	s.bundleWarn.Do(func(suppressed int64) {
		s.log.Warn("dropping malformed bundle", "error", err, "suppressed", suppressed)
	})
}

// HandleDatagram decodes one datagram and interprets it. Undecodable
// datagrams are counted, logged at a limited rate and dropped.
func (s *Stack) HandleDatagram(data []byte, from net.Addr) {
	p, err := osc.Decode(data)
	if err != nil {
		s.stats.AddDecodeError()
		s.decodeWarn.Do(func(suppressed int64) {
			s.log.Warn("dropping undecodable datagram", "error", err, "from", addrString(from), "size", len(data), "suppressed", suppressed)
		})
		return
	}
	s.Interpret(p)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// Run listens on the configured UDP address and dispatches until ctx is
// cancelled or the socket fails.
func (s *Stack) Run(ctx context.Context) error {
	l := network.NewUDPListener(network.UDPListenerConfig{
		Address:         s.cfg.Address,
		RcvBuf:          s.cfg.RcvBuf,
		MaxDatagramSize: s.cfg.MaxDatagramSize,
		Stats:           s.stats,
		Forwarder:       s.cfg.Forwarder,
		SocketFactory:   s.cfg.SocketFactory,
		Logger:          s.log,
	})
	return s.Serve(ctx, l)
}

// Serve marks the stack running and dispatches every datagram src produces.
// It returns when src does.
func (s *Stack) Serve(ctx context.Context, src network.Source) error {
	if err := s.start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.StatsInterval > 0 {
		go s.logStats(ctx)
	}

	routes := s.Routes()
	s.log.Info("dispatch started",
		"messages", len(routes.Messages),
		"bundles", len(routes.Bundles),
		"funnels", len(routes.Funnels),
		"max_funnel_depth", s.cfg.MaxFunnelDepth,
		"time_encoding", s.cfg.TimeEncoding.String(),
	)

	err := src.Serve(ctx, s)
	s.stats.LogStats(s.log)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatch source failed: %w", err)
	}
	return nil
}

func (s *Stack) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.runID = uuid.NewString()
	s.log = s.log.With("run_id", s.runID)
	return nil
}

func (s *Stack) logStats(ctx context.Context) {
	ticker := timeutil.Or(s.cfg.Clock).NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.stats.LogStats(s.log)
		}
	}
}

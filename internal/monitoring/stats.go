package monitoring

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent handler durations are kept for summaries.
const latencyWindow = 1024

// Counters is a set of dispatch and transport counts.
type Counters struct {
	Datagrams        int64 `json:"datagrams"`
	Bytes            int64 `json:"bytes"`
	ReceiveErrors    int64 `json:"receive_errors"`
	Oversize         int64 `json:"oversize"`
	DecodeErrors     int64 `json:"decode_errors"`
	ForwardDropped   int64 `json:"forward_dropped"`
	Dispatched       int64 `json:"dispatched"`
	Unrouted         int64 `json:"unrouted"`
	MalformedBundles int64 `json:"malformed_bundles"`
	Funneled         int64 `json:"funneled"`
	FunnelOverflow   int64 `json:"funnel_overflow"`
	HandlerPanics    int64 `json:"handler_panics"`
}

func (c *Counters) dropped() int64 {
	return c.Oversize + c.DecodeErrors + c.MalformedBundles + c.FunnelOverflow
}

// LatencySummary describes recent handler run times.
type LatencySummary struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	P50     time.Duration `json:"p50"`
	P99     time.Duration `json:"p99"`
	Max     time.Duration `json:"max"`
}

// StatsSnapshot is the result of the most recent LogStats call.
type StatsSnapshot struct {
	DatagramsPerSec float64   `json:"datagrams_per_sec"`
	KBPerSec        float64   `json:"kb_per_sec"`
	Interval        Counters  `json:"interval"`
	Timestamp       time.Time `json:"timestamp"`
}

// Stats tracks datagram and dispatch statistics. It is safe for concurrent
// use: the receive loop writes while the stats logger and admin page read.
type Stats struct {
	mu        sync.Mutex
	interval  Counters
	total     Counters
	latencies []float64
	next      int
	lastReset time.Time
	startTime time.Time
	latest    *StatsSnapshot

	now func() time.Time
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return newStatsWithClock(time.Now)
}

func newStatsWithClock(now func() time.Time) *Stats {
	t := now()
	return &Stats{
		latencies: make([]float64, 0, latencyWindow),
		lastReset: t,
		startTime: t,
		now:       now,
	}
}

func (s *Stats) add(f func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.interval)
	f(&s.total)
}

func (s *Stats) AddDatagram(bytes int) {
	s.add(func(c *Counters) {
		c.Datagrams++
		c.Bytes += int64(bytes)
	})
}

func (s *Stats) AddReceiveError()    { s.add(func(c *Counters) { c.ReceiveErrors++ }) }
func (s *Stats) AddOversize()        { s.add(func(c *Counters) { c.Oversize++ }) }
func (s *Stats) AddForwardDropped()  { s.add(func(c *Counters) { c.ForwardDropped++ }) }
func (s *Stats) AddDecodeError()     { s.add(func(c *Counters) { c.DecodeErrors++ }) }
func (s *Stats) AddDispatched()      { s.add(func(c *Counters) { c.Dispatched++ }) }
func (s *Stats) AddUnrouted()        { s.add(func(c *Counters) { c.Unrouted++ }) }
func (s *Stats) AddMalformedBundle() { s.add(func(c *Counters) { c.MalformedBundles++ }) }
func (s *Stats) AddFunneled()        { s.add(func(c *Counters) { c.Funneled++ }) }
func (s *Stats) AddFunnelOverflow()  { s.add(func(c *Counters) { c.FunnelOverflow++ }) }
func (s *Stats) AddHandlerPanic()    { s.add(func(c *Counters) { c.HandlerPanics++ }) }

// ObserveHandler records how long one handler invocation took.
func (s *Stats) ObserveHandler(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, float64(d))
		return
	}
	s.latencies[s.next] = float64(d)
	s.next = (s.next + 1) % latencyWindow
}

// Totals returns the counters accumulated since creation.
func (s *Stats) Totals() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Latency summarises the recent handler durations.
func (s *Stats) Latency() LatencySummary {
	s.mu.Lock()
	samples := slices.Clone(s.latencies)
	s.mu.Unlock()

	if len(samples) == 0 {
		return LatencySummary{}
	}
	slices.Sort(samples)
	return LatencySummary{
		Samples: len(samples),
		Mean:    time.Duration(stat.Mean(samples, nil)),
		P50:     time.Duration(stat.Quantile(0.5, stat.Empirical, samples, nil)),
		P99:     time.Duration(stat.Quantile(0.99, stat.Empirical, samples, nil)),
		Max:     time.Duration(samples[len(samples)-1]),
	}
}

// GetAndReset returns the interval counters and the time they cover, then
// starts a new interval.
func (s *Stats) GetAndReset() (Counters, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.interval
	d := now.Sub(s.lastReset)
	s.interval = Counters{}
	s.lastReset = now
	return c, d
}

// LogStats logs the interval rates and stores a snapshot for the admin page.
// Quiet intervals are not logged.
func (s *Stats) LogStats(log *slog.Logger) {
	c, d := s.GetAndReset()
	if c.Datagrams == 0 && c.ReceiveErrors == 0 {
		return
	}
	secs := d.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := &StatsSnapshot{
		DatagramsPerSec: float64(c.Datagrams) / secs,
		KBPerSec:        float64(c.Bytes) / secs / 1024,
		Interval:        c,
		Timestamp:       s.now(),
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	attrs := []any{
		"datagrams_per_sec", fmt.Sprintf("%.1f", snap.DatagramsPerSec),
		"kb_per_sec", fmt.Sprintf("%.2f", snap.KBPerSec),
		"dispatched", c.Dispatched,
	}
	if dropped := c.dropped(); dropped > 0 {
		attrs = append(attrs, "dropped", dropped)
	}
	if c.ReceiveErrors > 0 {
		attrs = append(attrs, "receive_errors", c.ReceiveErrors)
	}
	if c.HandlerPanics > 0 {
		attrs = append(attrs, "handler_panics", c.HandlerPanics)
	}
	log.Info("osc stats", attrs...)
}

// LatestSnapshot returns a copy of the last logged snapshot, or nil.
func (s *Stats) LatestSnapshot() *StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	snap := *s.latest
	return &snap
}

// Uptime returns the time since the stats were created.
func (s *Stats) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.startTime)
}

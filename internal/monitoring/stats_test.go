package monitoring

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/oscstack/internal/testutil"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestStats_CountersAndReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newStatsWithClock(clock.now)

	s.AddDatagram(100)
	s.AddDatagram(28)
	s.AddDecodeError()
	s.AddDispatched()
	s.AddUnrouted()
	s.AddFunneled()

	clock.t = clock.t.Add(2 * time.Second)
	c, d := s.GetAndReset()
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, int64(2), c.Datagrams)
	assert.Equal(t, int64(128), c.Bytes)
	assert.Equal(t, int64(1), c.DecodeErrors)
	assert.Equal(t, int64(1), c.Dispatched)

	c, _ = s.GetAndReset()
	assert.Equal(t, Counters{}, c)

	// Totals survive interval resets.
	assert.Equal(t, int64(2), s.Totals().Datagrams)
	assert.Equal(t, 2*time.Second, s.Uptime())
}

func TestStats_LogStats(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newStatsWithClock(clock.now)

	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, nil))

	// Quiet interval: nothing logged, no snapshot.
	clock.t = clock.t.Add(time.Second)
	s.LogStats(log)
	assert.Empty(t, out.String())
	assert.Nil(t, s.LatestSnapshot())

	for i := 0; i < 10; i++ {
		s.AddDatagram(1024)
	}
	s.AddOversize()
	clock.t = clock.t.Add(2 * time.Second)
	s.LogStats(log)

	assert.Contains(t, out.String(), "osc stats")
	assert.Contains(t, out.String(), "dropped=1")

	snap := s.LatestSnapshot()
	require.NotNil(t, snap)
	assert.InDelta(t, 5.0, snap.DatagramsPerSec, 1e-9)
	assert.InDelta(t, 5.0, snap.KBPerSec, 1e-9)
}

func TestStats_Latency(t *testing.T) {
	s := NewStats()
	assert.Equal(t, LatencySummary{}, s.Latency())

	for i := 1; i <= 100; i++ {
		s.ObserveHandler(time.Duration(i) * time.Millisecond)
	}
	sum := s.Latency()
	assert.Equal(t, 100, sum.Samples)
	assert.Equal(t, 100*time.Millisecond, sum.Max)
	assert.InDelta(t, float64(50500*time.Microsecond), float64(sum.Mean), float64(time.Microsecond))
	assert.Equal(t, 50*time.Millisecond, sum.P50)
	assert.Equal(t, 99*time.Millisecond, sum.P99)
}

func TestStats_LatencyWindowWraps(t *testing.T) {
	s := NewStats()
	for i := 0; i < latencyWindow+10; i++ {
		s.ObserveHandler(time.Millisecond)
	}
	s.ObserveHandler(time.Second)
	sum := s.Latency()
	assert.Equal(t, latencyWindow, sum.Samples)
	assert.Equal(t, time.Second, sum.Max)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Hour)

	var emitted []int64
	for i := 0; i < 5; i++ {
		th.Do(func(suppressed int64) { emitted = append(emitted, suppressed) })
	}
	assert.Equal(t, []int64{0}, emitted)

	every := NewThrottle(0)
	emitted = nil
	for i := 0; i < 3; i++ {
		every.Do(func(suppressed int64) { emitted = append(emitted, suppressed) })
	}
	assert.Equal(t, []int64{0, 0, 0}, emitted)
}

func TestAttachAdminRoutes(t *testing.T) {
	s := NewStats()
	s.AddDatagram(64)
	s.AddDispatched()

	mux := http.NewServeMux()
	AttachAdminRoutes(mux, s, func() any {
		return map[string][]string{"messages": {"/s_new"}}
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/osc-stats"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"datagrams": 1`)
	assert.Contains(t, rec.Body.String(), `"handler_latency"`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/osc-routes"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "/s_new")
}

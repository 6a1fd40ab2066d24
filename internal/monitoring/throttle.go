package monitoring

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often a repeated warning is emitted. Calls in between
// are counted and reported with the next emitted warning, so a stream of
// malformed datagrams costs one log line per interval.
type Throttle struct {
	sometimes  rate.Sometimes
	suppressed atomic.Int64
}

// NewThrottle returns a Throttle emitting at most once per interval. A zero
// interval emits every call.
func NewThrottle(interval time.Duration) *Throttle {
	t := &Throttle{}
	if interval > 0 {
		t.sometimes.Interval = interval
	} else {
		t.sometimes.Every = 1
	}
	return t
}

// Do runs emit when the throttle allows it, passing how many calls were
// suppressed since the previous emit.
func (t *Throttle) Do(emit func(suppressed int64)) {
	ran := false
	t.sometimes.Do(func() {
		ran = true
		emit(t.suppressed.Swap(0))
	})
	if !ran {
		t.suppressed.Add(1)
	}
}

package expiremap

import "time"

// Ticker is a monotonic nanosecond time source. The expiration engine
// never reads wall-clock time for deadlines; production maps use
// systemTicker, tests substitute a value-holding fake.
type Ticker interface {
	Now() int64
}

// systemTicker anchors to a fixed point at process init and reports
// elapsed nanoseconds via time.Since, which consumes Go's monotonic
// clock reading rather than wall time.
type systemTicker struct{ start time.Time }

func newSystemTicker() systemTicker { return systemTicker{start: time.Now()} }

func (t systemTicker) Now() int64 { return int64(time.Since(t.start)) }

var defaultTicker Ticker = newSystemTicker()

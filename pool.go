package expiremap

import "sync/atomic"

// pool offloads listener callbacks onto goroutines spawned via the
// configured GoroutineFactory, tracking how many are currently in flight.
type pool struct {
	spawn    GoroutineFactory
	inFlight atomic.Int64
}

func newPool(spawn GoroutineFactory) *pool {
	if spawn == nil {
		spawn = defaultGoroutineFactory
	}
	return &pool{spawn: spawn}
}

func (p *pool) submit(fn func()) {
	p.inFlight.Add(1)
	p.spawn(func() {
		defer p.inFlight.Add(-1)
		fn()
	})
}

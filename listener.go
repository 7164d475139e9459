package expiremap

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mgolub/expiremap/internal/obslog"
)

// Listener receives a key/value pair that just expired, either by TTL or
// by max-size eviction.
type Listener[K comparable, V any] func(key K, value V)

// ListenerHandle identifies a previously registered listener for later
// removal. Go function values aren't comparable, so listeners are
// removed by handle rather than by reference.
type ListenerHandle uint64

// listenerExecutionThreshold is the wall-clock cutoff past which a
// synchronous listener gets offloaded to the pool on every subsequent
// firing instead of running inline on the scheduler goroutine.
const listenerExecutionThreshold = 100 * time.Millisecond

type listenerState int32

const (
	listenerUnknown listenerState = iota
	listenerInline
	listenerOffload
)

type syncListener[K comparable, V any] struct {
	handle ListenerHandle
	fn     Listener[K, V]
	state  atomic.Int32
}

type asyncListener[K comparable, V any] struct {
	handle ListenerHandle
	fn     Listener[K, V]
}

// dispatcher owns a map's listener sets and notifies them outside the
// map's lock. Registration mutates copy-on-write slices so a listener
// removing itself mid-dispatch never races the snapshot already in use.
type dispatcher[K comparable, V any] struct {
	mu   sync.Mutex
	next atomic.Uint64

	syncListeners  []*syncListener[K, V]
	asyncListeners []*asyncListener[K, V]
}

func newDispatcher[K comparable, V any]() *dispatcher[K, V] {
	return &dispatcher[K, V]{}
}

func (d *dispatcher[K, V]) addSync(fn Listener[K, V]) ListenerHandle {
	h := ListenerHandle(d.next.Add(1))
	l := &syncListener[K, V]{handle: h, fn: fn}
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]*syncListener[K, V], len(d.syncListeners)+1)
	copy(next, d.syncListeners)
	next[len(d.syncListeners)] = l
	d.syncListeners = next
	return h
}

func (d *dispatcher[K, V]) addAsync(fn Listener[K, V]) ListenerHandle {
	h := ListenerHandle(d.next.Add(1))
	l := &asyncListener[K, V]{handle: h, fn: fn}
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]*asyncListener[K, V], len(d.asyncListeners)+1)
	copy(next, d.asyncListeners)
	next[len(d.asyncListeners)] = l
	d.asyncListeners = next
	return h
}

func (d *dispatcher[K, V]) remove(h ListenerHandle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.syncListeners {
		if l.handle == h {
			next := make([]*syncListener[K, V], 0, len(d.syncListeners)-1)
			next = append(next, d.syncListeners[:i]...)
			next = append(next, d.syncListeners[i+1:]...)
			d.syncListeners = next
			return true
		}
	}
	for i, l := range d.asyncListeners {
		if l.handle == h {
			next := make([]*asyncListener[K, V], 0, len(d.asyncListeners)-1)
			next = append(next, d.asyncListeners[:i]...)
			next = append(next, d.asyncListeners[i+1:]...)
			d.asyncListeners = next
			return true
		}
	}
	return false
}

// notify fans a single expiration event out to every registered listener.
// Async listeners always go through pool p. Sync listeners run inline
// until one is observed to run past listenerExecutionThreshold, after
// which it is offloaded on every later firing too.
func (d *dispatcher[K, V]) notify(p *pool, key K, value V) {
	d.mu.Lock()
	syncSnap := d.syncListeners
	asyncSnap := d.asyncListeners
	d.mu.Unlock()

	for _, l := range asyncSnap {
		l := l
		p.submit(func() { safeCall(l.fn, key, value) })
	}

	for _, l := range syncSnap {
		l := l
		switch listenerState(l.state.Load()) {
		case listenerInline:
			safeCall(l.fn, key, value)
		case listenerOffload:
			p.submit(func() { safeCall(l.fn, key, value) })
		default:
			start := time.Now()
			safeCall(l.fn, key, value)
			if time.Since(start) > listenerExecutionThreshold {
				l.state.Store(int32(listenerOffload))
			} else {
				l.state.Store(int32(listenerInline))
			}
		}
	}
}

func safeCall[K comparable, V any](fn Listener[K, V], key K, value V) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Warn("expiremap: listener panicked", zap.Any("panic", r))
		}
	}()
	fn(key, value)
}

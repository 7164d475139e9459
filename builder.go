package expiremap

import (
	"context"
	"reflect"
	"time"
)

// EntryLoaderFunc computes a value for a missing key. Returning an error
// leaves the map unchanged and propagates the error to the caller.
type EntryLoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// ExpiringEntryLoaderFunc computes a value plus optional per-entry
// expiration overrides for a missing key. A nil *ExpiringValue means "do
// not cache": nothing is stored and GetOrLoad returns the zero value with
// a nil error.
type ExpiringEntryLoaderFunc[K comparable, V any] func(ctx context.Context, key K) (*ExpiringValue[V], error)

const defaultExpiration = 60 * time.Second

// Builder assembles a Map. The zero value is not usable; use NewBuilder.
type Builder[K comparable, V any] struct {
	duration time.Duration
	policy   Policy
	variable bool
	maxSize  int

	loader         EntryLoaderFunc[K, V]
	expiringLoader ExpiringEntryLoaderFunc[K, V]

	syncListeners  []Listener[K, V]
	asyncListeners []Listener[K, V]

	ticker  Ticker
	metrics Metrics
	onEvict func(key K, value V, reason EvictReason)
	equal   func(a, b V) bool
}

// NewBuilder returns a Builder with a 60 second Created-policy default.
func NewBuilder[K comparable, V any]() *Builder[K, V] {
	return &Builder[K, V]{
		duration: defaultExpiration,
		policy:   Created,
		metrics:  NoopMetrics{},
		ticker:   defaultTicker,
		equal:    func(a, b V) bool { return reflect.DeepEqual(a, b) },
	}
}

// Expiration sets the default time-to-live for new entries. Panics if d
// is not positive, since a non-positive TTL can never be satisfied.
func (b *Builder[K, V]) Expiration(d time.Duration) *Builder[K, V] {
	if d <= 0 {
		panic("expiremap: Expiration must be positive")
	}
	b.duration = d
	return b
}

// ExpirationPolicy sets the default policy for new entries.
func (b *Builder[K, V]) ExpirationPolicy(p Policy) *Builder[K, V] {
	b.policy = p
	return b
}

// VariableExpiration enables per-key expiration policy and duration.
func (b *Builder[K, V]) VariableExpiration() *Builder[K, V] {
	b.variable = true
	return b
}

// MaxSize enables capacity enforcement: once size exceeds n, the oldest
// surviving entry is evicted after every insertion — oldest-inserted for
// a uniform map, earliest-to-expire for a variable map, per whichever
// order that map's index naturally keeps. n <= 0 means unbounded (the
// default). Combinable with VariableExpiration.
func (b *Builder[K, V]) MaxSize(n int) *Builder[K, V] {
	b.maxSize = n
	return b
}

// EntryLoader configures a synchronous value loader for GetOrLoad. Not
// combinable with ExpiringEntryLoader.
func (b *Builder[K, V]) EntryLoader(fn EntryLoaderFunc[K, V]) *Builder[K, V] {
	b.loader = fn
	return b
}

// ExpiringEntryLoader configures a value loader that can also override
// the stored policy and duration per key. The overrides take effect only
// on a map built with VariableExpiration; on a uniform map the value is
// stored with the map's defaults. Not combinable with EntryLoader.
func (b *Builder[K, V]) ExpiringEntryLoader(fn ExpiringEntryLoaderFunc[K, V]) *Builder[K, V] {
	b.expiringLoader = fn
	return b
}

// ExpirationListener registers a listener invoked synchronously for every
// expiration event, until it's observed to run slowly: on the scheduler
// goroutine, or on the caller's goroutine when a read or write reaps a
// due entry.
func (b *Builder[K, V]) ExpirationListener(l Listener[K, V]) *Builder[K, V] {
	b.syncListeners = append(b.syncListeners, l)
	return b
}

// AsyncExpirationListener registers a listener always dispatched on the
// offload pool, never on the scheduler goroutine.
func (b *Builder[K, V]) AsyncExpirationListener(l Listener[K, V]) *Builder[K, V] {
	b.asyncListeners = append(b.asyncListeners, l)
	return b
}

// EqualFunc replaces the value-equality check used to decide whether a
// Put under the Created policy actually changes anything (an idempotent
// Put doesn't reset the deadline) and to implement RemoveIf/ReplaceIf.
// Defaults to reflect.DeepEqual.
func (b *Builder[K, V]) EqualFunc(fn func(a, b V) bool) *Builder[K, V] {
	if fn != nil {
		b.equal = fn
	}
	return b
}

// Ticker replaces the map's time source, for deterministic tests.
func (b *Builder[K, V]) Ticker(t Ticker) *Builder[K, V] {
	b.ticker = t
	return b
}

// Metrics installs a Metrics sink. Defaults to NoopMetrics.
func (b *Builder[K, V]) Metrics(m Metrics) *Builder[K, V] {
	b.metrics = m
	return b
}

// OnEvict registers an ambient hook invoked for every entry that leaves
// the map, whether by expiration, capacity eviction, or explicit removal.
// Unlike ExpirationListener, it fires for explicit Remove too and is not
// subject to adaptive offloading.
func (b *Builder[K, V]) OnEvict(fn func(key K, value V, reason EvictReason)) *Builder[K, V] {
	b.onEvict = fn
	return b
}

// Build validates the configuration and constructs the Map.
func (b *Builder[K, V]) Build() (*Map[K, V], error) {
	if b.loader != nil && b.expiringLoader != nil {
		return nil, ErrBothLoadersConfigured
	}
	for _, l := range b.syncListeners {
		if l == nil {
			return nil, ErrNilListener
		}
	}
	for _, l := range b.asyncListeners {
		if l == nil {
			return nil, ErrNilListener
		}
	}

	m := &Map[K, V]{
		variable:       b.variable,
		maxSize:        b.maxSize,
		loader:         b.loader,
		expiringLoader: b.expiringLoader,
		disp:           newDispatcher[K, V](),
		pool:           currentPool(),
		ticker:         b.ticker,
		metrics:        b.metrics,
		onEvict:        b.onEvict,
		equal:          b.equal,
		sched:          currentScheduler(),
	}
	m.policy.Store(int32(b.policy))
	m.duration.Store(int64(b.duration))

	if b.variable {
		m.idx = newVariableIndex[K, V]()
	} else {
		m.idx = newUniformIndex[K, V]()
	}

	for _, l := range b.syncListeners {
		m.disp.addSync(l)
	}
	for _, l := range b.asyncListeners {
		m.disp.addAsync(l)
	}

	return m, nil
}

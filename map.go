package expiremap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgolub/expiremap/internal/singleflight"
	"github.com/mgolub/expiremap/internal/util"
)

// notifyItem is a key/value pair queued for listener dispatch once the
// writer lock that produced it has been released.
type notifyItem[K comparable, V any] struct {
	key    K
	val    V
	reason EvictReason
}

// Stats is a snapshot of the hot per-map counters, independent of
// whatever Metrics sink is configured.
type Stats struct {
	Hits        int64
	Misses      int64
	Expirations int64
}

// Map is a thread-safe, generic, expiring key/value store. Every
// resident entry carries a deadline; entries are removed and their
// expiration listeners notified either by a shared background scheduler
// or lazily on the next read that would otherwise observe stale data.
// Construct one with NewBuilder.
type Map[K comparable, V any] struct {
	mu sync.RWMutex

	idx      entryIndex[K, V]
	variable bool
	maxSize  int

	// policy and duration back every uniform entry's shared cell; a
	// variable map only reads them as defaults for freshly built entries.
	policy   atomic.Int32
	duration atomic.Int64

	// armed is the single entry, if any, with a live timer registered
	// with sched. Invariant: armed == idx.first() immediately after any
	// call to syncArmLocked, and no other entry is ever scheduled.
	armed *entry[K, V]

	loader         EntryLoaderFunc[K, V]
	expiringLoader ExpiringEntryLoaderFunc[K, V]
	loadGroup      singleflight.Group[K, V]

	disp  *dispatcher[K, V]
	pool  *pool
	sched *scheduler

	ticker  Ticker
	metrics Metrics
	onEvict func(key K, value V, reason EvictReason)
	equal   func(a, b V) bool

	closed atomic.Bool

	// seq and the hit/miss/expire counters are updated on essentially
	// every call; padding them to their own cache lines, separated from
	// the config fields above by a blank spacer, keeps that traffic from
	// bouncing the cache line the writer lock's readers are also touching.
	_       util.CacheLinePad
	seq     util.PaddedAtomicUint64
	hits    util.PaddedAtomicInt64
	misses  util.PaddedAtomicInt64
	expires util.PaddedAtomicInt64
}

func (m *Map[K, V]) now() int64 { return m.ticker.Now() }

func (m *Map[K, V]) nextSeq() uint64 { return m.seq.Add(1) }

func (m *Map[K, V]) keyNotFound(k K) error {
	return fmt.Errorf("expiremap: %v: %w", k, ErrKeyNotFound)
}

// Stats returns a snapshot of the map's hit/miss/expiration counters.
func (m *Map[K, V]) Stats() Stats {
	return Stats{
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Expirations: m.expires.Load(),
	}
}

// AddExpirationListener registers a synchronous listener at runtime.
func (m *Map[K, V]) AddExpirationListener(l Listener[K, V]) (ListenerHandle, error) {
	if l == nil {
		return 0, ErrNilListener
	}
	return m.disp.addSync(l), nil
}

// AddAsyncExpirationListener registers an always-offloaded listener at runtime.
func (m *Map[K, V]) AddAsyncExpirationListener(l Listener[K, V]) (ListenerHandle, error) {
	if l == nil {
		return 0, ErrNilListener
	}
	return m.disp.addAsync(l), nil
}

// RemoveExpirationListener unregisters a listener by its handle.
func (m *Map[K, V]) RemoveExpirationListener(h ListenerHandle) bool {
	return m.disp.remove(h)
}

// dispatchAll notifies listeners and the OnEvict hook for a batch of
// removed entries. Must be called with mu NOT held.
func (m *Map[K, V]) dispatchAll(due []notifyItem[K, V]) {
	for _, item := range due {
		m.disp.notify(m.pool, item.key, item.val)
		if m.onEvict != nil {
			m.onEvict(item.key, item.val, item.reason)
		}
	}
}

// syncArmLocked reconciles the single armed timer with the current
// index head. Must be called under the writer lock after any mutation
// that could change idx.first().
func (m *Map[K, V]) syncArmLocked(now int64) {
	head := m.idx.first()
	if head != nil && m.armed == head && head.isScheduled() {
		return
	}
	if m.armed != nil {
		m.armed.cancel(false, now)
		m.armed = nil
	}
	if head == nil {
		return
	}
	delay := time.Duration(head.expectedAt.Load() - now)
	if delay < 0 {
		delay = 0
	}
	task := m.sched.schedule(delay, func() { m.fire(head) })
	head.attachSchedule(task)
	m.armed = head
}

// sweepDueLocked removes every entry at the front of the index whose
// deadline has passed, in order, and returns them for notification.
func (m *Map[K, V]) sweepDueLocked(now int64) []notifyItem[K, V] {
	var due []notifyItem[K, V]
	for {
		head := m.idx.first()
		if head == nil || head.expectedAt.Load() > now {
			break
		}
		if m.armed == head {
			m.armed = nil
		}
		head.markExpired()
		m.idx.remove(head.key)
		m.metrics.Expire(EvictExpired)
		m.expires.Add(1)
		due = append(due, notifyItem[K, V]{key: head.key, val: head.value})
	}
	return due
}

// removeExpiredLocked removes a specific entry known to be past its
// deadline even if it isn't currently at the index head (possible for a
// uniform map whose shared duration changed after e was created), then
// sweeps any further due entries from the head.
func (m *Map[K, V]) removeExpiredLocked(e *entry[K, V], now int64) []notifyItem[K, V] {
	if m.armed == e {
		m.armed = nil
	}
	e.markExpired()
	m.idx.remove(e.key)
	m.metrics.Expire(EvictExpired)
	m.expires.Add(1)
	due := []notifyItem[K, V]{{key: e.key, val: e.value}}
	due = append(due, m.sweepDueLocked(now)...)
	m.syncArmLocked(now)
	return due
}

// fire is invoked on the scheduler's single worker goroutine when a
// previously armed timer elapses. A stale fire (superseded by a later
// mutation) is a harmless no-op.
func (m *Map[K, V]) fire(e *entry[K, V]) {
	m.mu.Lock()
	if m.armed != e {
		m.mu.Unlock()
		return
	}
	now := m.now()
	due := m.sweepDueLocked(now)
	m.enforceMaxSizeLocked(&due)
	m.syncArmLocked(now)
	m.reportSizeLocked()
	m.mu.Unlock()
	m.dispatchAll(due)
}

// enforceMaxSizeLocked evicts the oldest surviving entries — by
// insertion order for a uniform map, by earliest deadline for a
// variable map, whichever order idx.first() naturally walks — while the
// map is over capacity, appending them to due for post-unlock
// notification.
func (m *Map[K, V]) enforceMaxSizeLocked(due *[]notifyItem[K, V]) {
	if m.maxSize <= 0 {
		return
	}
	for m.idx.len() > m.maxSize {
		head := m.idx.first()
		if head == nil {
			break
		}
		if m.armed == head {
			m.armed = nil
		}
		head.markExpired()
		m.idx.remove(head.key)
		m.metrics.Expire(EvictCapacity)
		*due = append(*due, notifyItem[K, V]{key: head.key, val: head.value, reason: EvictCapacity})
	}
}

// resetEntryLocked recomputes e's deadline from its duration cell,
// repositions it in the index, and reconciles the armed timer.
func (m *Map[K, V]) resetEntryLocked(e *entry[K, V], now int64) {
	e.cancel(true, now)
	m.idx.reorder(e)
	m.syncArmLocked(now)
}

// reapIfDueLocked drains due entries from the head, if any, and keeps
// the armed timer in sync. Safe to call even when nothing is due.
func (m *Map[K, V]) reapIfDueLocked(now int64) []notifyItem[K, V] {
	due := m.sweepDueLocked(now)
	if len(due) > 0 {
		m.syncArmLocked(now)
	}
	return due
}

// Put inserts or overwrites the value for k using the map's default
// policy and duration (or, for an already-variable-configured entry, its
// own private cells). Under the Created policy, writing a value that
// compares equal to the current one leaves the deadline untouched.
func (m *Map[K, V]) Put(k K, v V) {
	now := m.now()
	m.mu.Lock()
	due := m.putLocked(k, v, nil, nil, now)
	m.mu.Unlock()
	m.dispatchAll(due)
}

// PutWithOptions inserts or overwrites k with per-entry policy and
// duration overrides. Requires a map built with VariableExpiration.
func (m *Map[K, V]) PutWithOptions(k K, v V, p Policy, d time.Duration) error {
	if !m.variable {
		return ErrVariableExpirationRequired
	}
	if d <= 0 {
		panic("expiremap: duration must be positive")
	}
	now := m.now()
	m.mu.Lock()
	due := m.putLocked(k, v, &p, &d, now)
	m.mu.Unlock()
	m.dispatchAll(due)
	return nil
}

// putLocked implements the shared body of Put and PutWithOptions.
func (m *Map[K, V]) putLocked(k K, v V, p *Policy, d *time.Duration, now int64) []notifyItem[K, V] {
	if e, ok := m.idx.get(k); ok {
		samePolicy := p == nil || policyKind(*p) == e.effectivePolicy()
		sameDuration := d == nil || int64(*d) == e.duration.Load()
		idempotent := e.effectivePolicy() == policyCreated && m.equal(e.value, v) && samePolicy && sameDuration

		e.value = v
		if p != nil {
			e.policy.Store(int32(*p))
		}
		if d != nil {
			e.duration.Store(int64(*d))
		}
		if !idempotent {
			m.resetEntryLocked(e, now)
		}
		due := m.reapIfDueLocked(now)
		m.reportSizeLocked()
		return due
	}

	var policyCell *atomic.Int32
	var durationCell *atomic.Int64
	if m.variable {
		policyCell = new(atomic.Int32)
		durationCell = new(atomic.Int64)
		if p != nil {
			policyCell.Store(int32(*p))
		} else {
			policyCell.Store(m.policy.Load())
		}
		if d != nil {
			durationCell.Store(int64(*d))
		} else {
			durationCell.Store(m.duration.Load())
		}
	} else {
		policyCell = &m.policy
		durationCell = &m.duration
	}

	e := newEntry[K, V](k, v, policyCell, durationCell, m.nextSeq(), now)
	m.idx.put(k, e)
	due := m.reapIfDueLocked(now)
	m.enforceMaxSizeLocked(&due)
	m.syncArmLocked(now)
	m.reportSizeLocked()
	return due
}

// PutIfAbsent inserts v for k only if k is not already present. It
// returns the value now associated with k and whether it inserted.
func (m *Map[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	now := m.now()
	m.mu.Lock()
	if e, ok := m.idx.get(k); ok && e.expectedAt.Load() > now {
		existing := e.value
		m.mu.Unlock()
		m.metrics.Hit()
		m.hits.Add(1)
		return existing, false
	}
	due := m.putLocked(k, v, nil, nil, now)
	m.mu.Unlock()
	m.dispatchAll(due)
	return v, true
}

// Get returns the value for k and whether it was present and unexpired.
// Under the Accessed policy, a hit resets the deadline.
func (m *Map[K, V]) Get(k K) (V, bool) {
	now := m.now()
	m.mu.RLock()
	e, ok := m.idx.get(k)
	if !ok {
		m.mu.RUnlock()
		m.recordMiss()
		var zero V
		return zero, false
	}
	due := e.expectedAt.Load() <= now
	accessed := e.effectivePolicy() == policyAccessed
	if !due && !accessed {
		v := e.value
		m.mu.RUnlock()
		m.recordHit()
		return v, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	e, ok = m.idx.get(k)
	if !ok {
		m.mu.Unlock()
		m.recordMiss()
		var zero V
		return zero, false
	}
	now = m.now()
	if e.expectedAt.Load() <= now {
		due := m.removeExpiredLocked(e, now)
		m.reportSizeLocked()
		m.mu.Unlock()
		m.dispatchAll(due)
		m.recordMiss()
		var zero V
		return zero, false
	}
	v := e.value
	if e.effectivePolicy() == policyAccessed {
		m.resetEntryLocked(e, now)
	}
	m.mu.Unlock()
	m.recordHit()
	return v, true
}

func (m *Map[K, V]) recordHit() {
	m.metrics.Hit()
	m.hits.Add(1)
}

func (m *Map[K, V]) recordMiss() {
	m.metrics.Miss()
	m.misses.Add(1)
}

// reportSizeLocked publishes the current resident count to Metrics.
// Called under the writer lock after any change to idx's length.
func (m *Map[K, V]) reportSizeLocked() {
	m.metrics.Size(m.idx.len())
}

// Remove deletes k unconditionally and returns its value, if present.
// Explicit removal never fires an ExpirationListener; it does invoke
// OnEvict, with reason EvictExpired, since EvictReason has no separate
// value for explicit removal.
func (m *Map[K, V]) Remove(k K) (V, bool) {
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok {
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	if m.armed == e {
		m.armed = nil
	}
	e.cancel(false, now)
	m.idx.remove(k)
	v := e.value
	due := m.reapIfDueLocked(now)
	m.syncArmLocked(now)
	m.reportSizeLocked()
	m.mu.Unlock()
	if m.onEvict != nil {
		m.onEvict(k, v, EvictExpired)
	}
	m.dispatchAll(due)
	return v, true
}

// RemoveIf deletes k only if its current value compares equal to val.
func (m *Map[K, V]) RemoveIf(k K, val V) bool {
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now || !m.equal(e.value, val) {
		m.mu.Unlock()
		return false
	}
	if m.armed == e {
		m.armed = nil
	}
	e.cancel(false, now)
	m.idx.remove(k)
	due := m.reapIfDueLocked(now)
	m.syncArmLocked(now)
	m.reportSizeLocked()
	m.mu.Unlock()
	if m.onEvict != nil {
		m.onEvict(k, val, EvictExpired)
	}
	m.dispatchAll(due)
	return true
}

// Replace sets a new value for an already-present, unexpired k and
// returns the value it replaced. It leaves the deadline untouched unless
// the entry's policy is Accessed.
func (m *Map[K, V]) Replace(k K, newVal V) (V, bool) {
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now {
		m.mu.Unlock()
		var zero V
		return zero, false
	}
	old := e.value
	e.value = newVal
	if e.effectivePolicy() == policyAccessed {
		m.resetEntryLocked(e, now)
	}
	m.mu.Unlock()
	return old, true
}

// ReplaceIf sets newVal for k only if its current value compares equal
// to oldVal.
func (m *Map[K, V]) ReplaceIf(k K, oldVal, newVal V) bool {
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now || !m.equal(e.value, oldVal) {
		m.mu.Unlock()
		return false
	}
	e.value = newVal
	if e.effectivePolicy() == policyAccessed {
		m.resetEntryLocked(e, now)
	}
	m.mu.Unlock()
	return true
}

// ResetExpiration restarts k's countdown from its current duration, as
// if it had just been inserted.
func (m *Map[K, V]) ResetExpiration(k K) error {
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now {
		m.mu.Unlock()
		return m.keyNotFound(k)
	}
	m.resetEntryLocked(e, now)
	m.mu.Unlock()
	return nil
}

// SetExpiration overrides k's duration. Requires VariableExpiration.
func (m *Map[K, V]) SetExpiration(k K, d time.Duration) error {
	if !m.variable {
		return ErrVariableExpirationRequired
	}
	if d <= 0 {
		panic("expiremap: duration must be positive")
	}
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now {
		m.mu.Unlock()
		return m.keyNotFound(k)
	}
	e.duration.Store(int64(d))
	m.resetEntryLocked(e, now)
	m.mu.Unlock()
	return nil
}

// SetDefaultExpiration changes the duration used for entries created
// from now on. Existing variable entries, which hold private cells, are
// unaffected; existing uniform entries share the cell and so keep their
// already-computed deadlines until their next reset.
func (m *Map[K, V]) SetDefaultExpiration(d time.Duration) {
	if d <= 0 {
		panic("expiremap: duration must be positive")
	}
	m.duration.Store(int64(d))
}

// SetExpirationPolicy overrides k's policy. Requires VariableExpiration.
func (m *Map[K, V]) SetExpirationPolicy(k K, p Policy) error {
	if !m.variable {
		return ErrVariableExpirationRequired
	}
	now := m.now()
	m.mu.Lock()
	e, ok := m.idx.get(k)
	if !ok || e.expectedAt.Load() <= now {
		m.mu.Unlock()
		return m.keyNotFound(k)
	}
	e.policy.Store(int32(p))
	m.mu.Unlock()
	return nil
}

// SetDefaultExpirationPolicy changes the policy used for entries created
// from now on, and, for a uniform map, for every existing entry too
// (they share the same cell).
func (m *Map[K, V]) SetDefaultExpirationPolicy(p Policy) {
	m.policy.Store(int32(p))
}

// ExpectedExpiration reports the duration remaining until k's deadline.
// A negative duration means the entry is logically expired but hasn't
// yet been swept by the background scheduler or a read.
func (m *Map[K, V]) ExpectedExpiration(k K) (time.Duration, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.idx.get(k)
	if !ok {
		return 0, m.keyNotFound(k)
	}
	return time.Duration(e.expectedAt.Load() - now), nil
}

// Expiration reports k's configured duration.
func (m *Map[K, V]) Expiration(k K) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.idx.get(k)
	if !ok {
		return 0, m.keyNotFound(k)
	}
	return time.Duration(e.duration.Load()), nil
}

// Len returns the number of resident, not-yet-swept entries, first
// reaping anything already past its deadline.
func (m *Map[K, V]) Len() int {
	now := m.now()
	m.mu.RLock()
	if !m.headDueRLocked(now) {
		n := m.idx.len()
		m.mu.RUnlock()
		return n
	}
	m.mu.RUnlock()

	m.mu.Lock()
	due := m.reapIfDueLocked(m.now())
	n := m.idx.len()
	m.reportSizeLocked()
	m.mu.Unlock()
	m.dispatchAll(due)
	return n
}

func (m *Map[K, V]) headDueRLocked(now int64) bool {
	head := m.idx.first()
	return head != nil && head.expectedAt.Load() <= now
}

// Close cancels every pending timer and empties the map. It does not
// fire expiration listeners for entries still resident at close time.
func (m *Map[K, V]) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	now := m.now()
	m.mu.Lock()
	for _, e := range m.idx.values() {
		e.cancel(false, now)
	}
	m.armed = nil
	if m.variable {
		m.idx = newVariableIndex[K, V]()
	} else {
		m.idx = newUniformIndex[K, V]()
	}
	m.reportSizeLocked()
	m.mu.Unlock()
}

// GetOrLoad returns k's value, loading it via the configured loader on a
// miss. Concurrent GetOrLoad calls for the same missing key coalesce
// into a single loader invocation.
func (m *Map[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	if v, ok := m.Get(k); ok {
		return v, nil
	}
	if m.loader == nil && m.expiringLoader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	return m.loadGroup.Do(ctx, k, func() (V, error) {
		if v, ok := m.Get(k); ok {
			return v, nil
		}
		if m.expiringLoader != nil {
			ev, err := m.expiringLoader(ctx, k)
			if err != nil {
				var zero V
				return zero, err
			}
			if ev == nil {
				var zero V
				return zero, nil
			}
			if ev.Policy != nil || ev.Duration != nil {
				p := m.currentPolicy()
				d := time.Duration(m.duration.Load())
				if ev.Policy != nil {
					p = *ev.Policy
				}
				if ev.Duration != nil {
					d = *ev.Duration
				}
				if err := m.PutWithOptions(k, ev.Value, p, d); err != nil {
					m.Put(k, ev.Value)
				}
			} else {
				m.Put(k, ev.Value)
			}
			return ev.Value, nil
		}
		v, err := m.loader(ctx, k)
		if err != nil {
			var zero V
			return zero, err
		}
		m.Put(k, v)
		return v, nil
	})
}

func (m *Map[K, V]) currentPolicy() Policy { return Policy(m.policy.Load()) }

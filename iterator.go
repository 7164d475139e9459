package expiremap

import "iter"

// mapIterator walks a point-in-time snapshot of a Map's entries while
// checking, on every advance, that the map's resident count hasn't
// changed underneath it. A change — an explicit mutation or a
// background expiration sweep — panics with ErrConcurrentModification,
// mirroring the fatal error Go's own runtime raises for a map mutated
// during range.
type mapIterator[K comparable, V any] struct {
	m        *Map[K, V]
	snap     []notifyItem[K, V]
	wantSize int
}

// newMapIterator reaps due entries and captures both a snapshot of the
// surviving entries and the resident count immediately afterward, which
// becomes the baseline every subsequent checkAdvance compares against.
func newMapIterator[K comparable, V any](m *Map[K, V], now int64) *mapIterator[K, V] {
	m.mu.Lock()
	due := m.reapIfDueLocked(now)
	if len(due) > 0 {
		m.reportSizeLocked()
	}
	values := m.idx.values()
	snap := make([]notifyItem[K, V], len(values))
	for i, e := range values {
		snap[i] = notifyItem[K, V]{key: e.key, val: e.value}
	}
	size := m.idx.len()
	m.mu.Unlock()
	m.dispatchAll(due)
	return &mapIterator[K, V]{m: m, snap: snap, wantSize: size}
}

// checkAdvance panics if the map's size no longer matches the size
// observed when the iterator was created.
func (it *mapIterator[K, V]) checkAdvance() {
	it.m.mu.RLock()
	n := it.m.idx.len()
	it.m.mu.RUnlock()
	if n != it.wantSize {
		panic(ErrConcurrentModification)
	}
}

// Keys returns every resident, unexpired key at the moment of the call.
// It panics with ErrConcurrentModification if the map's size changes
// before the snapshot is fully copied out, including a shrink caused by
// time-based expiration.
func (m *Map[K, V]) Keys() []K {
	it := newMapIterator(m, m.now())
	out := make([]K, 0, len(it.snap))
	for _, item := range it.snap {
		it.checkAdvance()
		out = append(out, item.key)
	}
	return out
}

// Values returns every resident, unexpired value at the moment of the
// call, with the same concurrent-modification guarantee as Keys.
func (m *Map[K, V]) Values() []V {
	it := newMapIterator(m, m.now())
	out := make([]V, 0, len(it.snap))
	for _, item := range it.snap {
		it.checkAdvance()
		out = append(out, item.val)
	}
	return out
}

// All returns a range-over-func iterator over a snapshot of key/value
// pairs taken at the moment All is called. Ranging over the result
// panics with ErrConcurrentModification the first time it observes that
// the map's size has changed since the snapshot was taken — whether from
// an explicit Put/Remove or a background expiration sweep.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	it := newMapIterator(m, m.now())

	return func(yield func(K, V) bool) {
		for _, item := range it.snap {
			it.checkAdvance()
			if !yield(item.key, item.val) {
				return
			}
		}
	}
}

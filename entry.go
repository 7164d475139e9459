package expiremap

import (
	"sync"
	"sync/atomic"
)

// policyKind encodes the two expiration policies as a small int, atomically
// swappable so a shared cell can be updated map-wide without touching
// every entry.
type policyKind int32

const (
	policyCreated policyKind = iota
	policyAccessed
)

// entry is a single resident key/value pair plus its expiration metadata.
// The key is immutable; value and scheduling fields mutate only while the
// owning Map's writer lock is held. heapIndex is owned exclusively by
// variableIndex and ignored by uniformIndex.
type entry[K comparable, V any] struct {
	key   K
	value V

	// policy and duration are shared cells for uniform expiration (every
	// entry in the map points at the same two cells) or private per-entry
	// cells for variable expiration.
	policy   *atomic.Int32
	duration *atomic.Int64

	expectedAt atomic.Int64 // absolute monotonic deadline, nanoseconds
	seq        uint64       // insertion sequence, breaks ties in variableIndex

	// mu guards scheduled/task independently of the map's writer lock,
	// even though every caller today already holds it; this keeps
	// schedule/cancel correct if that ever changes.
	mu        sync.Mutex
	task      *scheduledTask
	scheduled bool

	heapIndex int // index within variableIndex's heap, -1 when absent

	// prev/next are intrusive doubly linked list links used only by
	// uniformIndex (head = oldest/first, tail = newest).
	prev *entry[K, V]
	next *entry[K, V]
}

func newEntry[K comparable, V any](key K, value V, policy *atomic.Int32, duration *atomic.Int64, seq uint64, now int64) *entry[K, V] {
	e := &entry[K, V]{
		key:       key,
		value:     value,
		policy:    policy,
		duration:  duration,
		seq:       seq,
		heapIndex: -1,
	}
	e.expectedAt.Store(now + duration.Load())
	return e
}

// effectivePolicy returns the entry's current expiration policy.
func (e *entry[K, V]) effectivePolicy() policyKind {
	return policyKind(e.policy.Load())
}

// resetDeadline recomputes expectedAt from the current duration cell.
func (e *entry[K, V]) resetDeadline(now int64) {
	e.expectedAt.Store(now + e.duration.Load())
}

// cancel clears any pending scheduled task, optionally resetting the
// deadline, and reports whether a task had been pending. Idempotent.
func (e *entry[K, V]) cancel(reset bool, now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasScheduled := e.scheduled
	if e.task != nil {
		e.task.stop()
	}
	e.task = nil
	e.scheduled = false

	if reset {
		e.resetDeadline(now)
	}
	return wasScheduled
}

// attachSchedule records a newly armed task for this entry.
func (e *entry[K, V]) attachSchedule(t *scheduledTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = t
	e.scheduled = true
}

// isScheduled reports whether a firing is currently pending.
func (e *entry[K, V]) isScheduled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduled
}

// markExpired clears the scheduled flag without touching the timer,
// used by the scheduler task once it has decided to remove the entry.
func (e *entry[K, V]) markExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task = nil
	e.scheduled = false
}

// less orders entries by (expectedAt, seq); no two distinct entries ever
// compare equal, satisfying the strict order the variable index requires.
func (e *entry[K, V]) less(other *entry[K, V]) bool {
	ea, oa := e.expectedAt.Load(), other.expectedAt.Load()
	if ea != oa {
		return ea < oa
	}
	return e.seq < other.seq
}

package expiremap

// entryIndex is the ordered view over resident entries that the
// expiration engine keeps under its writer lock. Both variants satisfy
// this contract; only asymptotic complexity differs.
type entryIndex[K comparable, V any] interface {
	// get looks up an entry by key.
	get(k K) (*entry[K, V], bool)
	// put inserts a brand-new entry. The caller guarantees k is absent.
	put(k K, e *entry[K, V])
	// remove deletes an entry by key, returning it if present.
	remove(k K) (*entry[K, V], bool)
	// first returns the entry with the earliest claim to expire, or nil.
	first() *entry[K, V]
	// reorder repositions an already-present entry after its ordering
	// fields (expectedAt for variableIndex, "now" for uniformIndex) change.
	reorder(e *entry[K, V])
	// len reports the number of resident entries.
	len() int
	// values returns a snapshot slice of all entries, in index order.
	values() []*entry[K, V]
}

// uniformIndex keeps entries ordered strictly by insertion (or, after a
// reorder, by most-recent-touch) with an intrusive doubly linked list
// plus a hash lookup. first() is the head (oldest); reorder moves an
// entry to the tail.
type uniformIndex[K comparable, V any] struct {
	m    map[K]*entry[K, V]
	head *entry[K, V] // oldest / first()
	tail *entry[K, V] // newest
	n    int
}

func newUniformIndex[K comparable, V any]() *uniformIndex[K, V] {
	return &uniformIndex[K, V]{m: make(map[K]*entry[K, V])}
}

func (idx *uniformIndex[K, V]) get(k K) (*entry[K, V], bool) {
	e, ok := idx.m[k]
	return e, ok
}

func (idx *uniformIndex[K, V]) put(k K, e *entry[K, V]) {
	idx.m[k] = e
	idx.pushTail(e)
}

func (idx *uniformIndex[K, V]) remove(k K) (*entry[K, V], bool) {
	e, ok := idx.m[k]
	if !ok {
		return nil, false
	}
	delete(idx.m, k)
	idx.unlink(e)
	return e, true
}

func (idx *uniformIndex[K, V]) first() *entry[K, V] { return idx.head }

func (idx *uniformIndex[K, V]) reorder(e *entry[K, V]) {
	idx.unlink(e)
	idx.pushTail(e)
}

func (idx *uniformIndex[K, V]) len() int { return idx.n }

func (idx *uniformIndex[K, V]) values() []*entry[K, V] {
	out := make([]*entry[K, V], 0, idx.n)
	for e := idx.head; e != nil; e = e.next {
		out = append(out, e)
	}
	return out
}

// pushTail inserts e as the newest entry in O(1).
func (idx *uniformIndex[K, V]) pushTail(e *entry[K, V]) {
	e.prev = idx.tail
	e.next = nil
	if idx.tail != nil {
		idx.tail.next = e
	}
	idx.tail = e
	if idx.head == nil {
		idx.head = e
	}
	idx.n++
}

// unlink detaches e from the list in O(1) without touching the map.
func (idx *uniformIndex[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if idx.head == e {
		idx.head = e.next
	}
	if idx.tail == e {
		idx.tail = e.prev
	}
	e.prev, e.next = nil, nil
	idx.n--
}

var (
	_ entryIndex[string, int] = (*uniformIndex[string, int])(nil)
	_ entryIndex[string, int] = (*variableIndex[string, int])(nil)
)

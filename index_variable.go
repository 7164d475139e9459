package expiremap

import (
	"container/heap"
	"sort"
)

// variableIndex keeps entries ordered by (expectedAt, seq) for maps with
// per-entry expiration. It pairs a map[K]*entry for O(1) lookup with a
// binary heap for O(log n) insert/remove/reorder.
type variableIndex[K comparable, V any] struct {
	m map[K]*entry[K, V]
	h entryHeap[K, V]
}

func newVariableIndex[K comparable, V any]() *variableIndex[K, V] {
	return &variableIndex[K, V]{m: make(map[K]*entry[K, V])}
}

func (idx *variableIndex[K, V]) get(k K) (*entry[K, V], bool) {
	e, ok := idx.m[k]
	return e, ok
}

func (idx *variableIndex[K, V]) put(k K, e *entry[K, V]) {
	idx.m[k] = e
	heap.Push(&idx.h, e)
}

func (idx *variableIndex[K, V]) remove(k K) (*entry[K, V], bool) {
	e, ok := idx.m[k]
	if !ok {
		return nil, false
	}
	delete(idx.m, k)
	heap.Remove(&idx.h, e.heapIndex)
	e.heapIndex = -1
	return e, true
}

func (idx *variableIndex[K, V]) first() *entry[K, V] {
	if len(idx.h) == 0 {
		return nil
	}
	return idx.h[0]
}

func (idx *variableIndex[K, V]) reorder(e *entry[K, V]) {
	heap.Fix(&idx.h, e.heapIndex)
}

func (idx *variableIndex[K, V]) len() int { return len(idx.h) }

func (idx *variableIndex[K, V]) values() []*entry[K, V] {
	out := make([]*entry[K, V], len(idx.h))
	copy(out, idx.h)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// entryHeap implements container/heap.Interface over entry pointers,
// ordered by entry.less (expectedAt, then seq).
type entryHeap[K comparable, V any] []*entry[K, V]

func (h entryHeap[K, V]) Len() int            { return len(h) }
func (h entryHeap[K, V]) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h entryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap[K, V]) Push(x any) {
	e := x.(*entry[K, V])
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

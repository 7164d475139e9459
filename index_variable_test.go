package expiremap

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func variableTestEntry(key string, seq uint64, deadline int64) *entry[string, int] {
	policy := new(atomic.Int32)
	duration := new(atomic.Int64)
	e := newEntry[string, int](key, 0, policy, duration, seq, 0)
	e.expectedAt.Store(deadline)
	return e
}

func TestVariableIndex_FirstIsEarliestDeadline(t *testing.T) {
	t.Parallel()

	idx := newVariableIndex[string, int]()
	a := variableTestEntry("a", 1, 300)
	b := variableTestEntry("b", 2, 100)
	c := variableTestEntry("c", 3, 200)
	idx.put("a", a)
	idx.put("b", b)
	idx.put("c", c)

	require.Equal(t, b, idx.first())
	require.Equal(t, 3, idx.len())
}

func TestVariableIndex_TiesBreakBySeq(t *testing.T) {
	t.Parallel()

	idx := newVariableIndex[string, int]()
	a := variableTestEntry("a", 5, 100)
	b := variableTestEntry("b", 2, 100)
	idx.put("a", a)
	idx.put("b", b)

	require.Equal(t, b, idx.first(), "lower seq wins a tied deadline")
}

func TestVariableIndex_ReorderAfterDeadlineChange(t *testing.T) {
	t.Parallel()

	idx := newVariableIndex[string, int]()
	a := variableTestEntry("a", 1, 100)
	b := variableTestEntry("b", 2, 200)
	idx.put("a", a)
	idx.put("b", b)
	require.Equal(t, a, idx.first())

	a.expectedAt.Store(300)
	idx.reorder(a)
	require.Equal(t, b, idx.first())
}

func TestVariableIndex_RemoveFixesHeap(t *testing.T) {
	t.Parallel()

	idx := newVariableIndex[string, int]()
	a := variableTestEntry("a", 1, 100)
	b := variableTestEntry("b", 2, 200)
	c := variableTestEntry("c", 3, 300)
	idx.put("a", a)
	idx.put("b", b)
	idx.put("c", c)

	_, ok := idx.remove("a")
	require.True(t, ok)
	require.Equal(t, b, idx.first())
	require.Equal(t, 2, idx.len())
	require.Equal(t, -1, a.heapIndex)
}

package expiremap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuilder_Defaults(t *testing.T) {
	t.Parallel()

	m, err := NewBuilder[string, int]().Build()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	require.False(t, m.variable)
	require.EqualValues(t, defaultExpiration, m.duration.Load())
	require.Equal(t, Created, m.currentPolicy())
}

func TestBuilder_BothLoadersRejected(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder[string, string]().
		EntryLoader(func(context.Context, string) (string, error) { return "", nil }).
		ExpiringEntryLoader(func(context.Context, string) (*ExpiringValue[string], error) { return nil, nil }).
		Build()
	require.ErrorIs(t, err, ErrBothLoadersConfigured)
}

func TestBuilder_NilListenerRejected(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder[string, string]().ExpirationListener(nil).Build()
	require.ErrorIs(t, err, ErrNilListener)

	_, err = NewBuilder[string, string]().AsyncExpirationListener(nil).Build()
	require.ErrorIs(t, err, ErrNilListener)
}

func TestBuilder_ExpirationMustBePositive(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		NewBuilder[string, string]().Expiration(0)
	})
	require.Panics(t, func() {
		NewBuilder[string, string]().Expiration(-time.Second)
	})
}

func TestBuilder_VariableExpirationSwitchesIndex(t *testing.T) {
	t.Parallel()

	m, err := NewBuilder[string, string]().VariableExpiration().Build()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	_, ok := m.idx.(*variableIndex[string, string])
	require.True(t, ok)
}

func TestBuilder_MaxSizeAndMetricsWired(t *testing.T) {
	t.Parallel()

	metrics := &countingMetrics{}
	m, err := NewBuilder[string, int]().MaxSize(1).Metrics(metrics).Build()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	m.Put("a", 1)
	m.Put("b", 2)
	require.Equal(t, 1, m.Len())
	require.GreaterOrEqual(t, metrics.expires, int32(1))
}

type countingMetrics struct {
	hits, misses, expires int32
}

func (c *countingMetrics) Hit()               { c.hits++ }
func (c *countingMetrics) Miss()              { c.misses++ }
func (c *countingMetrics) Expire(EvictReason) { c.expires++ }
func (c *countingMetrics) Size(int)           {}

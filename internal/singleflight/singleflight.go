// Package singleflight coalesces concurrent GetOrLoad misses for the
// same key into a single loader call, so a cache stampede on a hot,
// just-expired key runs the configured EntryLoader/ExpiringEntryLoader
// exactly once.
package singleflight

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mgolub/expiremap/internal/obslog"
)

// ErrPanicked is wrapped into the error every waiter — leader and
// followers alike — receives when the leader's fn panics instead of
// returning normally. Without this, a panicking loader would leave
// c.done unclosed and every follower blocked forever.
var ErrPanicked = errors.New("singleflight: fn panicked")

// Group coalesces concurrent calls for the same key K so that fn runs at
// most once per outstanding miss.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower unblocks only that follower; it does
//     NOT cancel the leader's fn. GetOrLoad relies on that: the loader
//     keeps running so a later call for the same key can still observe
//     its result once it lands in the map.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn once for the given key. Concurrent calls with the same key
// wait for the shared result. If ctx is cancelled in a follower, that
// follower returns ctx.Err() while the leader continues to run fn.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	// Fast path: an in-flight call exists — wait (respecting ctx).
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	// We are the leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	v, err := g.runLeader(key, fn)

	// Publish result and wake followers.
	c.val, c.err = v, err
	close(c.done)

	// Remove the in-flight marker.
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return v, err
}

// runLeader executes fn outside the group's lock, recovering a panic
// into an ErrPanicked-wrapped error instead of letting it unwind past
// Do and strand every follower waiting on c.done.
func (g *Group[K, V]) runLeader(key K, fn func() (V, error)) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Warn("expiremap: singleflight leader panicked",
				zap.Any("key", key), zap.Any("panic", r))
			var zero V
			v, err = zero, fmt.Errorf("%v: %w", r, ErrPanicked)
		}
	}()
	return fn()
}

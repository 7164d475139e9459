package expiremap

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_TasksRunSerially(t *testing.T) {
	t.Parallel()

	s := newScheduler(defaultGoroutineFactory)
	t.Cleanup(s.shutdown)

	var order []int32
	var mu sync.Mutex
	var running int32

	for i := int32(0); i < 20; i++ {
		i := i
		s.enqueue(func() {
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				t.Errorf("task %d ran concurrently with another", i)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.StoreInt32(&running, 0)
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, time.Second, time.Millisecond)
}

func TestScheduler_ScheduleFiresAfterDelay(t *testing.T) {
	t.Parallel()

	s := newScheduler(defaultGoroutineFactory)
	t.Cleanup(s.shutdown)

	fired := make(chan struct{})
	s.schedule(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestScheduler_StopCancelsBeforeFire(t *testing.T) {
	t.Parallel()

	s := newScheduler(defaultGoroutineFactory)
	t.Cleanup(s.shutdown)

	fired := make(chan struct{}, 1)
	task := s.schedule(50*time.Millisecond, func() { fired <- struct{}{} })
	task.stop()

	select {
	case <-fired:
		t.Fatal("stopped task must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewPool_UsesGivenGoroutineFactory(t *testing.T) {
	t.Parallel()

	var spawned int32
	p := newPool(func(f func()) {
		atomic.AddInt32(&spawned, 1)
		f()
	})
	done := make(chan struct{})
	p.submit(func() { close(done) })
	<-done
	require.EqualValues(t, 1, atomic.LoadInt32(&spawned))
}

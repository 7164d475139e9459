// Package expiremap provides a thread-safe, generic in-memory map whose
// entries expire after a configurable time-to-live.
//
// Design
//
//   - Concurrency: a single RWMutex protects one ordered index of resident
//     entries. Reads take the reader lock and only upgrade to the writer
//     lock when they'd otherwise mutate state (an Accessed-policy reset,
//     or reaping an entry whose deadline has already passed).
//
//   - Ordering: a uniform map (the default) keeps entries in an intrusive
//     doubly linked list ordered by insertion/touch, mirroring how every
//     entry shares one expiration deadline in practice. VariableExpiration
//     switches to a binary heap ordered by each entry's own deadline.
//
//   - Expiration: each map keeps a single timer armed for its earliest
//     deadline, and one process-wide background goroutine runs the tasks
//     those timers enqueue. When the task runs, it drains every now-due entry, re-arms for whatever remains, and
//     notifies listeners after releasing the lock. Reads also reap a due
//     entry lazily rather than returning stale data.
//
//   - Policies: Created only starts the countdown at insertion or reset;
//     Accessed restarts it on every read too.
//
//   - GetOrLoad: coalesces concurrent loads for the same missing key using
//     a singleflight group, same as a cache would.
//
//   - Metrics: Metrics receives Hit/Miss/Expire/Size signals; NoopMetrics
//     is the default, and metrics/prom provides a Prometheus adapter.
//
//   - Listeners: ExpirationListener runs synchronously until observed to
//     run slowly, after which it's offloaded to a goroutine pool;
//     AsyncExpirationListener always runs offloaded. Panics are recovered
//     and logged, never propagated to the caller that triggered expiry.
//
// Basic usage
//
//	m, _ := expiremap.NewBuilder[string, string]().
//		Expiration(10 * time.Second).
//		Build()
//	m.Put("a", "1")
//	v, ok := m.Get("a")
//
// With variable per-entry expiration
//
//	m, _ := expiremap.NewBuilder[string, string]().
//		VariableExpiration().
//		Build()
//	m.PutWithOptions("a", "1", expiremap.Created, 50*time.Millisecond)
//
// With GetOrLoad
//
//	m, _ := expiremap.NewBuilder[string, string]().
//		EntryLoader(func(ctx context.Context, k string) (string, error) {
//			return "v:" + k, nil
//		}).
//		Build()
//	v, err := m.GetOrLoad(context.Background(), "key")
//
// Exporting metrics (Prometheus adapter)
//
//	adapter := prom.New(nil, "expiremap", "demo", nil)
//	m, _ := expiremap.NewBuilder[string, string]().Metrics(adapter).Build()
//
// See builder.go for all Builder options and options.go for the Metrics
// and EvictReason types.
package expiremap

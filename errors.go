package expiremap

import "errors"

var (
	// ErrVariableExpirationRequired is returned by operations that need
	// per-entry expiration control on a map built without VariableExpiration.
	ErrVariableExpirationRequired = errors.New("expiremap: variable expiration is not enabled for this map")

	// ErrKeyNotFound is returned by key-scoped operations on an absent key.
	// Call sites wrap it with the offending key via fmt.Errorf and %w.
	ErrKeyNotFound = errors.New("key not found")

	// ErrBothLoadersConfigured is returned by Build when a Builder has both
	// an EntryLoader and an ExpiringEntryLoader configured.
	ErrBothLoadersConfigured = errors.New("expiremap: entry loader and expiring entry loader are mutually exclusive")

	// ErrNilListener is returned when registering a nil listener function.
	ErrNilListener = errors.New("expiremap: listener must not be nil")

	// ErrNoLoader is returned by GetOrLoad on a map built without a loader.
	ErrNoLoader = errors.New("expiremap: no loader configured")

	// ErrConcurrentModification is the value passed to panic by Keys,
	// Values, and All when the map's size changes out from under an
	// in-progress iteration, including a shrink caused by time-based
	// expiration rather than an explicit call.
	ErrConcurrentModification = errors.New("expiremap: concurrent modification during iteration")
)

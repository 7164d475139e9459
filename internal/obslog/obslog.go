// Package obslog holds the process-wide structured logger the expiration
// engine uses to report recovered panics (from expiration listeners and
// from singleflight loader leaders). It defaults to a no-op logger, the way a library
// embedded in someone else's process shouldn't write logs unasked.
package obslog

import "go.uber.org/zap"

var logger = zap.NewNop()

// L returns the current logger.
func L() *zap.Logger { return logger }

// SetLogger installs l as the package logger. Passing nil is a no-op.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Package timestamp provides the monotonic Clock the engine reads PSN
// fallback timestamps and TCP Client disconnect times from.
package timestamp

import (
	"sync"
	"time"
)

// Clock is a monotonic-millisecond clock. PSN fallback timestamps and the
// TCP Client's last-disconnect time read from a Clock so that a
// frozen/adjusted wall clock never perturbs them.
type Clock struct {
	start time.Time
}

// NewClock returns a Clock anchored to the current instant.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the Clock was created.
func (c *Clock) NowMs() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

var (
	defaultClockOnce sync.Once
	defaultClock     *Clock
)

// Default returns a process-wide Clock, created lazily on first use.
func Default() *Clock {
	defaultClockOnce.Do(func() {
		defaultClock = NewClock()
	})
	return defaultClock
}

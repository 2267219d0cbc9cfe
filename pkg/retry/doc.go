// Package retry provides exponential backoff for the router's transport
// workers.
//
// # Overview
//
// UDP listeners bind their socket at Start through this package, so they
// keep trying rather than give up on a single transient failure. TCP
// clients run their own reconnect loop, and TCP servers listen once at
// Start.
//
// # Indefinite retry
//
// A MaxAttempts of 0 or less retries forever, bounded only by ctx -- the
// shape errors.RetryConfig.ToRetryConfig produces for a worker's
// reconnect_delay_ms setting, since a socket a route depends on should keep
// trying to come back up for the life of the process.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return conn.Dial()
//	})
//
// # Context Cancellation
//
// Do respects context cancellation and stops immediately, either during
// operation execution or during backoff delay.
//
// # Thread Safety
//
// Do is safe for concurrent use; its jitter mechanism uses a thread-safe
// random source to avoid contention.
package retry

package weave

import "time"

// MaxReconnectWait is the ceiling the reconnect loop's sleep-between-
// attempts backoff doubles up to.
const MaxReconnectWait = 60 * time.Second

// MaxReconnectTimeout is the ceiling the reconnect loop's per-attempt
// connect/auth timeout grows up to.
const MaxReconnectTimeout = 10 * time.Second

// steppedBackoff is the reconnect loop's pacing state: a sleep interval
// that doubles up to a ceiling, and a per-attempt timeout that grows by
// a fixed step up to its own ceiling, tracking both at once since the
// reconnect loop advances them together on every failed attempt.
type steppedBackoff struct {
	wait       time.Duration
	maxWait    time.Duration
	timeout    time.Duration
	maxTimeout time.Duration
}

// newReconnectBackoff returns a backoff initialized to the reconnect
// loop's starting values: wait_time=1s, timeout=2s.
func newReconnectBackoff() *steppedBackoff {
	return &steppedBackoff{
		wait:       1 * time.Second,
		maxWait:    MaxReconnectWait,
		timeout:    2 * time.Second,
		maxTimeout: MaxReconnectTimeout,
	}
}

// Wait returns the current sleep interval.
func (b *steppedBackoff) Wait() time.Duration { return b.wait }

// Timeout returns the current per-attempt timeout.
func (b *steppedBackoff) Timeout() time.Duration { return b.timeout }

// Step doubles the wait interval (capped) and grows the timeout by one
// second (capped), applied after each failed attempt.
func (b *steppedBackoff) Step() {
	b.wait *= 2
	if b.wait > b.maxWait {
		b.wait = b.maxWait
	}
	b.timeout += time.Second
	if b.timeout > b.maxTimeout {
		b.timeout = b.maxTimeout
	}
}

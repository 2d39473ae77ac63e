// Package ratelimit paces message production on the shared-memory
// channels.
package ratelimit

import "time"

// Limiter holds average throughput at a fixed messages-per-second
// budget. Messages accumulate into batches and time is checked once
// per batch, so the fast path is a counter increment.
// Not safe for concurrent use.
type Limiter struct {
	interval time.Duration // budgeted time per message
	deadline time.Time     // when the pending batch may proceed
	pending  uint64
	batch    uint64 // messages between time checks
}

// New creates a limiter for mps messages per second.
// A zero mps returns nil, which Wait treats as unlimited.
func New(mps uint64) *Limiter {
	if mps == 0 {
		return nil
	}
	return &Limiter{
		interval: time.Second / time.Duration(mps),
		deadline: time.Now(),

		// Check time roughly every 10ms worth of messages, clamped so
		// tiny budgets still make progress and huge ones still sleep.
		batch: min(max(mps/100, 32), 1024),
	}
}

// Wait blocks until n more messages fit the budget. A limiter that has
// fallen behind schedule does not bank the deficit; it resumes pacing
// from the current time.
func (l *Limiter) Wait(n uint64) {
	if l == nil || n == 0 {
		return
	}

	l.pending += n
	if l.pending < l.batch {
		return
	}

	l.deadline = l.deadline.Add(time.Duration(l.pending) * l.interval)
	l.pending = 0

	now := time.Now()
	if now.Before(l.deadline) {
		time.Sleep(l.deadline.Sub(now))
		return
	}
	l.deadline = now
}

// Package retry provides the bounded reconnect policy used by callers
// that own a retry decision.  Nothing in the API layer retries on its
// own; the pairing controller consults a [Backoff] after each push
// stream failure.
package retry

import "time"

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff describes how long to wait before the next attempt and when
// to give up.
type Backoff struct {
	// Delay is the wait between attempts (default 5s).
	Delay time.Duration
	// MaxAttempts is the total number of tries including the first.
	// Set to 0 for unlimited retries.
	MaxAttempts int
}

// Fixed returns a policy that waits delay between attempts and allows
// at most attempts tries in total.
func Fixed(delay time.Duration, attempts int) *Backoff {
	return &Backoff{Delay: delay, MaxAttempts: attempts}
}

// Exhausted reports whether attempt (1-based, already made) used up
// the budget.
func (b *Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

// Next returns the wait before the attempt that follows attempt, or
// false when no further attempt is allowed.
func (b *Backoff) Next(attempt int) (time.Duration, bool) {
	if b.Exhausted(attempt) {
		return 0, false
	}
	if b.Delay <= 0 {
		return 5 * time.Second, true
	}
	return b.Delay, true
}

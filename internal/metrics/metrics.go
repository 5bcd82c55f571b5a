// Package metrics provides lightweight, lock-free counters for tracking
// what a wabotctl run did against the remote service.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one client process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	apiCalls       atomic.Int64
	apiFailures    atomic.Int64
	streamAttempts atomic.Int64
	streamErrors   atomic.Int64
	pairingCodes   atomic.Int64
	polls          atomic.Int64
	pollFailures   atomic.Int64
	errorsTotal    atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastPoll     time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── API metrics ──────────────────────────────────────────────────────

// APICall records one request to the remote service and whether it
// ended in anything other than success.
func (c *Collector) APICall(failed bool) {
	if c == nil {
		return
	}
	c.apiCalls.Add(1)
	if failed {
		c.apiFailures.Add(1)
	}
}

// APICalls returns the number of requests made.
func (c *Collector) APICalls() int64 {
	if c == nil {
		return 0
	}
	return c.apiCalls.Load()
}

// APIFailures returns the number of requests that did not succeed.
func (c *Collector) APIFailures() int64 {
	if c == nil {
		return 0
	}
	return c.apiFailures.Load()
}

// ── Pairing stream metrics ───────────────────────────────────────────

// StreamAttempt records a push stream being opened.
func (c *Collector) StreamAttempt() {
	if c == nil {
		return
	}
	c.streamAttempts.Add(1)
}

// StreamError records a push stream failing.
func (c *Collector) StreamError() {
	if c == nil {
		return
	}
	c.streamErrors.Add(1)
}

// PairingCode records a pairing code delivered by the stream.
func (c *Collector) PairingCode() {
	if c == nil {
		return
	}
	c.pairingCodes.Add(1)
}

// StreamAttempts returns how many push streams were opened.
func (c *Collector) StreamAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.streamAttempts.Load()
}

// StreamErrors returns how many push streams failed.
func (c *Collector) StreamErrors() int64 {
	if c == nil {
		return 0
	}
	return c.streamErrors.Load()
}

// PairingCodes returns how many pairing codes were received.
func (c *Collector) PairingCodes() int64 {
	if c == nil {
		return 0
	}
	return c.pairingCodes.Load()
}

// ── Polling metrics ──────────────────────────────────────────────────

// Poll records a status poll and its result.
func (c *Collector) Poll(failed bool) {
	if c == nil {
		return
	}
	c.polls.Add(1)
	if failed {
		c.pollFailures.Add(1)
	}
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()
}

// Polls returns the number of status polls.
func (c *Collector) Polls() int64 {
	if c == nil {
		return 0
	}
	return c.polls.Load()
}

// PollFailures returns the number of failed status polls.
func (c *Collector) PollFailures() int64 {
	if c == nil {
		return 0
	}
	return c.pollFailures.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	APICalls         int64  `json:"api_calls"`
	APIFailures      int64  `json:"api_failures"`
	StreamAttempts   int64  `json:"stream_attempts"`
	StreamErrors     int64  `json:"stream_errors"`
	PairingCodes     int64  `json:"pairing_codes"`
	Polls            int64  `json:"polls"`
	PollFailures     int64  `json:"poll_failures"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastPoll         string `json:"last_poll,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		APICalls:       c.apiCalls.Load(),
		APIFailures:    c.apiFailures.Load(),
		StreamAttempts: c.streamAttempts.Load(),
		StreamErrors:   c.streamErrors.Load(),
		PairingCodes:   c.pairingCodes.Load(),
		Polls:          c.polls.Load(),
		PollFailures:   c.pollFailures.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastPoll.IsZero() {
		s.LastPoll = c.lastPoll.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

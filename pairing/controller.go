// Package pairing drives the bot pairing flow: verify the session,
// ask the service to start a bot connection, then show pairing codes
// from a push stream while polling connection status until the bot is
// paired.
//
// Every input (stream events, stream failures, retry timers, poll
// results, network completions) is handled by one mutex-guarded
// transition, so each event runs to completion before the next one is
// looked at.  Blocking work runs in goroutines that report back as
// events.  Stream attempts and the poll ticker carry generation numbers;
// events from a superseded generation are dropped.
package pairing

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"wabotctl/api"
	"wabotctl/internal/errors"
	"wabotctl/internal/metrics"
	"wabotctl/internal/retry"
	"wabotctl/internal/session"
	"wabotctl/present"
	"wabotctl/util"
)

// State is the connection state of the controller.
type State int

const (
	Idle State = iota
	Initializing
	AwaitingPairing
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case AwaitingPairing:
		return "awaiting pairing"
	case Connected:
		return "connected"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBusy is returned by Start while a pairing run is in progress or
// the bot is already connected.
var ErrBusy = errors.New("pairing already in progress")

// Stream is one open push stream.
type Stream interface {
	Next() (api.PairingEvent, error)
	Close() error
}

// Service is the part of the remote API the controller needs.
type Service interface {
	Verify(ctx context.Context) error
	InitBot(ctx context.Context, username string) error
	Status(ctx context.Context, username string) (api.Status, error)
	OpenPairingStream(ctx context.Context, username string) (Stream, error)
}

type gatewayService struct{ *api.Gateway }

func (g gatewayService) OpenPairingStream(ctx context.Context, username string) (Stream, error) {
	s, err := g.Gateway.OpenPairingStream(ctx, username)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FromGateway adapts an API gateway to [Service].
func FromGateway(gw *api.Gateway) Service {
	return gatewayService{gw}
}

// Options configures a Controller.
type Options struct {
	Service   Service
	Session   *session.Context
	Presenter present.Presenter
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// PollInterval is the status poll period (default 5s).
	PollInterval time.Duration
	// Backoff bounds stream reconnects (default 3 attempts, 5s apart).
	Backoff *retry.Backoff

	// OnSessionInvalid runs, outside the transition lock, when the
	// service rejects the token while a run is starting.  The caller is
	// expected to force a logout.
	OnSessionInvalid func()

	// Now is the clock used for token expiry checks.
	Now func() time.Time
}

// Snapshot is a copy of the controller's observable state.
type Snapshot struct {
	State       State
	PhoneNumber string
	Attempts    int
	StreamLive  bool
	Polling     bool
	BotActive   bool
	BotKnown    bool
	LastError   string
}

// Controller owns the connection state.  The zero value is not usable;
// create one with New.
type Controller struct {
	svc       Service
	sess      *session.Context
	presenter present.Presenter
	logger    *util.Logger
	metrics   *metrics.Collector
	interval  time.Duration
	backoff   *retry.Backoff
	onInvalid func()
	now       func() time.Time

	mu        sync.Mutex
	state     State
	phone     string
	attempts  int
	lastErr   string
	botActive bool
	botKnown  bool
	changed   chan struct{}

	// invalidPending is set between a rejected token and the forced
	// logout the OnSessionInvalid callback runs.
	invalidPending bool

	runCtx    context.Context
	runCancel context.CancelFunc
	runGen    uint64

	attemptGen    uint64
	attemptCancel context.CancelFunc

	retryGen   uint64
	retryTimer *time.Timer

	pollGen    uint64
	pollCancel context.CancelFunc
}

// New returns an idle controller.
func New(opts Options) *Controller {
	c := &Controller{
		svc:       opts.Service,
		sess:      opts.Session,
		presenter: opts.Presenter,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		interval:  opts.PollInterval,
		backoff:   opts.Backoff,
		onInvalid: opts.OnSessionInvalid,
		now:       opts.Now,
		changed:   make(chan struct{}),
	}
	if c.presenter == nil {
		c.presenter = present.Discard()
	}
	if c.logger == nil {
		c.logger = util.Discard()
	}
	c.logger = c.logger.With("pairing")
	if c.interval <= 0 {
		c.interval = 5 * time.Second
	}
	if c.backoff == nil {
		c.backoff = retry.Fixed(5*time.Second, 3)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// ── Queries ─────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:       c.state,
		PhoneNumber: c.phone,
		Attempts:    c.attempts,
		StreamLive:  c.attemptCancel != nil,
		Polling:     c.pollCancel != nil,
		BotActive:   c.botActive,
		BotKnown:    c.botKnown,
		LastError:   c.lastErr,
	}
}

// Wait blocks until the state is one of states or ctx ends.
func (c *Controller) Wait(ctx context.Context, states ...State) (State, error) {
	return c.waitUntil(ctx, func() bool { return slices.Contains(states, c.state) })
}

// Settle blocks until the run cannot move on its own any more: the bot
// is connected, the controller is back in Idle, or it is Errored with
// no poll ticker left and no forced logout pending.
func (c *Controller) Settle(ctx context.Context) (State, error) {
	return c.waitUntil(ctx, c.settledLocked)
}

func (c *Controller) settledLocked() bool {
	switch c.state {
	case Connected, Idle:
		return true
	case Errored:
		return c.pollCancel == nil && !c.invalidPending
	}
	return false
}

func (c *Controller) waitUntil(ctx context.Context, done func() bool) (State, error) {
	for {
		c.mu.Lock()
		st, ch, ok := c.state, c.changed, done()
		c.mu.Unlock()
		if ok {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// ── Start ───────────────────────────────────────────────────────────

// Start begins a pairing run from Idle or Errored.  It returns as soon
// as the run is underway; use Wait to follow it.  ctx bounds the whole
// run, not just the call.
func (c *Controller) Start(ctx context.Context) error {
	user, ok := c.sess.User()
	if !ok {
		return errors.ErrNotAuthenticated
	}
	token := c.sess.Token()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle && c.state != Errored {
		if c.state == Connected {
			return fmt.Errorf("%w: bot already connected as %s", ErrBusy, c.phone)
		}
		return ErrBusy
	}

	c.teardownLocked()
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.runGen++
	c.attempts = 0
	c.phone = ""
	c.lastErr = ""
	c.invalidPending = false
	c.setStateLocked(Initializing)
	c.presenter.ShowInstruction("Generating pairing code...")

	gen, runCtx := c.runGen, c.runCtx
	go func() {
		var err error
		if session.TokenExpired(token, c.now()) {
			c.logger.Verbose("token expired locally, skipping verify")
			err = errors.ErrUnauthorized
		} else {
			err = c.svc.Verify(runCtx)
		}
		c.verified(gen, user.Username, err)
	}()
	return nil
}

func (c *Controller) verified(gen uint64, username string, err error) {
	c.mu.Lock()
	if gen != c.runGen || c.state != Initializing {
		c.mu.Unlock()
		return
	}

	switch api.OutcomeOf(err) {
	case api.OutcomeUnauthorized:
		c.rejectedLocked()
		c.mu.Unlock()
		c.signalInvalid()
		return
	case api.OutcomeNetworkError:
		c.failStartLocked(err)
		c.mu.Unlock()
		return
	case api.OutcomeAppError:
		// Only a rejected token stops the run here.
		c.logger.Warn("verify: %v", err)
	}

	runCtx := c.runCtx
	c.mu.Unlock()

	go func() {
		c.initialized(gen, username, c.svc.InitBot(runCtx, username))
	}()
}

func (c *Controller) initialized(gen uint64, username string, err error) {
	c.mu.Lock()
	if gen != c.runGen || c.state != Initializing {
		c.mu.Unlock()
		return
	}

	if err != nil {
		if api.OutcomeOf(err) == api.OutcomeUnauthorized {
			c.rejectedLocked()
			c.mu.Unlock()
			c.signalInvalid()
			return
		}
		c.failStartLocked(err)
		c.mu.Unlock()
		return
	}

	c.setStateLocked(AwaitingPairing)
	c.presenter.Notify(present.LevelSuccess, "Bot started. Waiting for the pairing code.")
	c.openAttemptLocked(username)
	c.startPollingLocked(username)
	c.mu.Unlock()
}

// rejectedLocked moves a starting run to Errored after the service
// refused the token.
func (c *Controller) rejectedLocked() {
	c.teardownLocked()
	c.invalidPending = c.onInvalid != nil
	c.lastErr = "session expired"
	c.setStateLocked(Errored)
	c.metrics.RecordError(c.lastErr)
	c.presenter.Notify(present.LevelError, "Session expired. Log in again.")
}

func (c *Controller) failStartLocked(err error) {
	c.teardownLocked()
	c.lastErr = describe(err)
	c.setStateLocked(Errored)
	c.metrics.RecordError(c.lastErr)
	c.logger.Error("start: %v", err)
	c.presenter.Notify(present.LevelError, c.lastErr)
	c.presenter.ShowInstruction("Could not start the bot. Try again.")
}

func (c *Controller) signalInvalid() {
	if c.onInvalid != nil {
		c.onInvalid()
	}
}

// ── Stream attempts ─────────────────────────────────────────────────

// openAttemptLocked closes any live attempt and opens the next one.
func (c *Controller) openAttemptLocked(username string) {
	c.closeAttemptLocked()
	c.attempts++
	c.attemptGen++
	ctx, cancel := context.WithCancel(c.runCtx)
	c.attemptCancel = cancel
	c.metrics.StreamAttempt()
	c.logger.Verbose("opening stream attempt %d", c.attempts)

	go c.runStream(ctx, c.attemptGen, username)
}

func (c *Controller) closeAttemptLocked() {
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
}

func (c *Controller) liveAttemptLocked(gen uint64) bool {
	return gen == c.attemptGen && c.attemptCancel != nil
}

func (c *Controller) runStream(ctx context.Context, gen uint64, username string) {
	s, err := c.svc.OpenPairingStream(ctx, username)
	if err != nil {
		c.streamFailed(gen, username, err)
		return
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()
	defer s.Close()

	for {
		ev, err := s.Next()
		if err != nil {
			var malformed *api.MalformedEventError
			if errors.As(err, &malformed) {
				c.streamMalformed(gen, malformed)
				continue
			}
			if ctx.Err() == nil {
				c.streamFailed(gen, username, err)
			}
			return
		}
		c.streamEvent(gen, ev)
	}
}

func (c *Controller) streamEvent(gen uint64, ev api.PairingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveAttemptLocked(gen) {
		return
	}

	switch ev.Kind() {
	case api.EventCode:
		c.metrics.PairingCode()
		c.presenter.ShowPairingCode(ev.QR)
		c.presenter.ShowInstruction("Scan this code with the phone that will run the bot.")
	case api.EventWaiting:
		if ev.Attempts > 0 {
			c.presenter.ShowInstruction(fmt.Sprintf("Waiting for pairing code... (attempt %d)", ev.Attempts))
		} else {
			c.presenter.ShowInstruction("Waiting for pairing code...")
		}
	case api.EventConnected:
		c.applyStatusLocked(ev.AsStatus(), "stream")
	case api.EventFatal:
		c.closeAttemptLocked()
		c.stopRetryLocked()
		c.lastErr = ev.Error
		c.setStateLocked(Errored)
		c.metrics.RecordError(ev.Error)
		c.logger.Error("stream: %s", ev.Error)
		c.presenter.Notify(present.LevelError, ev.Error)
		c.presenter.ShowInstruction("Pairing failed. Try again.")
	default:
		c.logger.Debug("ignoring stream event %+v", ev)
	}
}

func (c *Controller) streamMalformed(gen uint64, err *api.MalformedEventError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveAttemptLocked(gen) {
		return
	}
	c.logger.Warn("%v", err)
	c.presenter.ShowInstruction("Received an unreadable update from the server. Still waiting...")
}

func (c *Controller) streamFailed(gen uint64, username string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveAttemptLocked(gen) {
		return
	}

	c.closeAttemptLocked()
	c.metrics.StreamError()
	switch {
	case err == io.EOF:
		c.logger.Verbose("stream attempt %d ended by server", c.attempts)
	case errors.IsRetryable(err):
		c.logger.Verbose("stream attempt %d: transient: %v", c.attempts, err)
	default:
		c.logger.Warn("stream attempt %d: %v", c.attempts, err)
	}

	wait, ok := c.backoff.Next(c.attempts)
	if !ok {
		c.lastErr = fmt.Sprintf("pairing stream unavailable after %d attempts", c.attempts)
		c.setStateLocked(Errored)
		c.metrics.RecordError(c.lastErr)
		c.presenter.Notify(present.LevelError, c.lastErr)
		c.presenter.ShowInstruction("Could not reach the pairing stream. Still checking the connection status...")
		return
	}

	c.presenter.ShowInstruction(fmt.Sprintf("Connection error. Attempt %d of %d...", c.attempts, c.backoff.MaxAttempts))
	c.retryGen++
	rgen := c.retryGen
	c.retryTimer = time.AfterFunc(wait, func() { c.retry(rgen, username) })
}

func (c *Controller) retry(rgen uint64, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rgen != c.retryGen || c.retryTimer == nil || c.state != AwaitingPairing {
		return
	}
	c.retryTimer = nil
	c.openAttemptLocked(username)
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
}

// ── Teardown ────────────────────────────────────────────────────────

// teardownLocked releases the live attempt, the retry timer and the
// poll ticker, and cancels the run.
func (c *Controller) teardownLocked() {
	c.closeAttemptLocked()
	c.stopRetryLocked()
	c.stopPollingLocked()
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	c.runGen++
}

// Reset tears everything down and returns to Idle.  It is used on
// logout and is safe to call in any state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.teardownLocked()
	c.attempts = 0
	c.phone = ""
	c.lastErr = ""
	c.invalidPending = false
	c.botKnown = false
	c.botActive = false
	c.setStateLocked(Idle)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("%s -> %s", c.state, s)
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}

func describe(err error) string {
	if msg, ok := errors.AppMessage(err); ok {
		return msg
	}
	if errors.IsNetwork(err) {
		return "could not reach the server"
	}
	return err.Error()
}

package pairing

import (
	"context"
	"time"

	"wabotctl/api"
	"wabotctl/internal/errors"
	"wabotctl/present"
)

// ── Polling ─────────────────────────────────────────────────────────

func (c *Controller) startPollingLocked(username string) {
	c.stopPollingLocked()
	c.pollGen++
	ctx, cancel := context.WithCancel(c.runCtx)
	c.pollCancel = cancel
	go c.pollLoop(ctx, c.pollGen, username)
}

func (c *Controller) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.pollGen++
}

func (c *Controller) pollLoop(ctx context.Context, gen uint64, username string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := c.svc.Status(ctx, username)
		if ctx.Err() != nil {
			return
		}
		c.polled(gen, st, err)
	}
}

func (c *Controller) polled(gen uint64, st api.Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.pollGen || c.pollCancel == nil {
		return
	}
	c.metrics.Poll(err != nil)
	if err != nil {
		c.statusFailedLocked(err)
		return
	}
	c.statusLocked(st, "poll")
}

// ── Status reconciliation ───────────────────────────────────────────

// CheckStatus queries the bot status once and feeds the result through
// the same transition as a poll.  A rejected token forces a logout.
func (c *Controller) CheckStatus(ctx context.Context) (api.Status, error) {
	user, ok := c.sess.User()
	if !ok {
		return api.Status{}, errors.ErrNotAuthenticated
	}

	st, err := c.svc.Status(ctx, user.Username)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.statusFailedLocked(err)
		return api.Status{}, err
	}
	c.statusLocked(st, "check")
	return st, nil
}

func (c *Controller) statusFailedLocked(err error) {
	if errors.IsUnauthorized(err) {
		c.forceLogoutLocked(context.Background())
		return
	}
	c.metrics.RecordError(err.Error())
	c.logger.Verbose("status: %v", err)
}

func (c *Controller) statusLocked(st api.Status, source string) {
	c.botActive = st.BotActive
	c.botKnown = true
	c.applyStatusLocked(st, source)

	phone := st.PhoneNumber
	if !st.KnownPhone() {
		phone = ""
	}
	c.presenter.ShowStatus(present.Status{
		State:       c.state.String(),
		Connected:   st.Connected,
		PhoneNumber: phone,
		BotActive:   st.BotActive,
	})
}

// applyStatusLocked moves a pending run to Connected once a status
// proves the bot is paired.  Repeats are no-ops and nothing leaves
// Connected here.
func (c *Controller) applyStatusLocked(st api.Status, source string) {
	if !st.Paired() {
		if c.state == Connected && !st.Connected {
			c.logger.Verbose("%s reports disconnected; keeping connected state", source)
		}
		return
	}
	if c.state != AwaitingPairing && c.state != Errored {
		return
	}

	c.closeAttemptLocked()
	c.stopRetryLocked()
	c.stopPollingLocked()
	c.phone = st.PhoneNumber
	c.lastErr = ""
	c.setStateLocked(Connected)
	c.logger.Info("bot paired as %s (via %s)", c.phone, source)
	c.presenter.ShowInstruction("Bot connected successfully!")
	c.presenter.Notify(present.LevelSuccess, "Bot connected as "+c.phone)
}

// BotActive returns the cached bot flag from the last status.
func (c *Controller) BotActive() (active, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botActive, c.botKnown
}

// SetBotActive updates the cached bot flag after a successful toggle.
func (c *Controller) SetBotActive(active bool) {
	c.mu.Lock()
	c.botActive = active
	c.botKnown = true
	c.mu.Unlock()
}

// ── Forced logout ───────────────────────────────────────────────────

// ForceLogout runs the session-invalid teardown: close the stream, stop
// polling, clear the stored session, return to Idle and tell the user.
func (c *Controller) ForceLogout(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceLogoutLocked(ctx)
}

func (c *Controller) forceLogoutLocked(ctx context.Context) {
	c.resetLocked()
	if err := c.sess.End(ctx); err != nil {
		c.logger.Error("clear session: %v", err)
	}
	c.logger.Warn("session rejected by server; logged out")
	c.presenter.SessionExpired()
	c.presenter.ShowLogin()
}

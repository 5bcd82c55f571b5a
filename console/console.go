// Package console is the application facade.  Each method is one user
// action: it validates input, talks to the service, keeps the session
// in step and tells the presenter what happened.  Any rejected token
// ends in a forced logout.
package console

import (
	"context"
	"strings"
	"time"

	"wabotctl/api"
	"wabotctl/internal/errors"
	"wabotctl/internal/metrics"
	"wabotctl/internal/retry"
	"wabotctl/internal/session"
	"wabotctl/pairing"
	"wabotctl/present"
	"wabotctl/util"
)

var (
	ErrMissingFields    = errors.New("please fill in all fields")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrEmptyPrompt      = errors.New("the prompt cannot be empty")
)

// Options configures a Console.
type Options struct {
	Gateway   *api.Gateway
	Session   *session.Context
	Presenter present.Presenter
	Logger    *util.Logger
	Metrics   *metrics.Collector

	PollInterval time.Duration
	Backoff      *retry.Backoff
}

// Console runs user actions.
type Console struct {
	gw        *api.Gateway
	sess      *session.Context
	presenter present.Presenter
	logger    *util.Logger
	ctrl      *pairing.Controller
}

// New returns a Console with its own pairing controller.
func New(opts Options) *Console {
	c := &Console{
		gw:        opts.Gateway,
		sess:      opts.Session,
		presenter: opts.Presenter,
		logger:    opts.Logger,
	}
	if c.presenter == nil {
		c.presenter = present.Discard()
	}
	if c.logger == nil {
		c.logger = util.Discard()
	}
	c.logger = c.logger.With("console")
	c.ctrl = pairing.New(pairing.Options{
		Service:      pairing.FromGateway(opts.Gateway),
		Session:      opts.Session,
		Presenter:    c.presenter,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		PollInterval: opts.PollInterval,
		Backoff:      opts.Backoff,
		OnSessionInvalid: func() {
			c.ctrl.ForceLogout(context.Background())
		},
	})
	return c
}

// Pairing returns the console's pairing controller.
func (c *Console) Pairing() *pairing.Controller { return c.ctrl }

// Restore loads a saved session.  Without one the login view is shown.
// With one the profile is shown and the status checked.
func (c *Console) Restore(ctx context.Context) (bool, error) {
	ok, err := c.sess.Restore(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		c.presenter.ShowLogin()
		return false, nil
	}
	user, _ := c.sess.User()
	c.presenter.ShowProfile(user)
	if _, err := c.CheckStatus(ctx); err != nil && errors.IsUnauthorized(err) {
		return false, nil
	}
	return true, nil
}

// Login exchanges credentials for a session and checks the bot status.
// The pairing state is left untouched.
func (c *Console) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		c.presenter.Notify(present.LevelWarning, ErrMissingFields.Error())
		return ErrMissingFields
	}

	res, err := c.gw.Login(ctx, username, password)
	switch {
	case errors.Is(err, errors.ErrTokenMissing):
		c.presenter.Notify(present.LevelError, "authentication token not received")
		return err
	case errors.IsUnauthorized(err):
		c.presenter.Notify(present.LevelError, "invalid username or password")
		return err
	case err != nil:
		c.presenter.Notify(present.LevelError, describe(err))
		return err
	}

	if err := c.sess.Begin(ctx, res.Token, *res.User); err != nil {
		c.presenter.Notify(present.LevelError, "could not save the session: "+err.Error())
		return err
	}
	c.logger.Verbose("logged in as %s", res.User.Username)
	c.presenter.ShowProfile(*res.User)
	c.presenter.Notify(present.LevelSuccess, "Logged in as "+res.User.Username)

	if _, err := c.CheckStatus(ctx); err != nil && !errors.IsUnauthorized(err) {
		c.logger.Verbose("status after login: %v", err)
	}
	return nil
}

// Register creates an account.  It does not log in.
func (c *Console) Register(ctx context.Context, username, password, confirm string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" || confirm == "" {
		c.presenter.Notify(present.LevelWarning, ErrMissingFields.Error())
		return ErrMissingFields
	}
	if password != confirm {
		c.presenter.Notify(present.LevelWarning, ErrPasswordMismatch.Error())
		return ErrPasswordMismatch
	}

	if err := c.gw.Register(ctx, username, password); err != nil {
		c.presenter.Notify(present.LevelError, describe(err))
		return err
	}
	c.presenter.Notify(present.LevelSuccess, "Account created. Log in with 'wabotctl login -u "+username+"'.")
	return nil
}

// Logout ends the session locally, then tells the server.  Server-side
// failures are only logged.
func (c *Console) Logout(ctx context.Context) error {
	token := c.sess.Token()
	c.ctrl.Reset()
	if err := c.sess.End(ctx); err != nil {
		return err
	}
	c.presenter.ShowLogin()

	if token == "" {
		return nil
	}
	if err := c.gw.WithToken(token).Logout(ctx); err != nil {
		c.logger.Warn("server logout: %v", err)
	}
	return nil
}

// StartBot begins the pairing flow.
func (c *Console) StartBot(ctx context.Context) error {
	if !c.sess.Authenticated() {
		return c.requireLogin(ctx)
	}
	err := c.ctrl.Start(ctx)
	if errors.Is(err, pairing.ErrBusy) {
		c.presenter.Notify(present.LevelInfo, err.Error())
	}
	return err
}

// CheckStatus queries the bot status once.
func (c *Console) CheckStatus(ctx context.Context) (api.Status, error) {
	if !c.sess.Authenticated() {
		return api.Status{}, c.requireLogin(ctx)
	}
	st, err := c.ctrl.CheckStatus(ctx)
	if err != nil && !errors.IsUnauthorized(err) {
		c.presenter.Notify(present.LevelError, describe(err))
	}
	return st, err
}

// SavePrompt stores the bot prompt.
func (c *Console) SavePrompt(ctx context.Context, prompt string) error {
	user, ok := c.sess.User()
	if !ok {
		return c.requireLogin(ctx)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		c.presenter.Notify(present.LevelWarning, ErrEmptyPrompt.Error())
		return ErrEmptyPrompt
	}

	if err := c.gw.UpdatePrompt(ctx, user.Username, prompt); err != nil {
		return c.fail(ctx, err)
	}
	if err := c.sess.UpdateUser(ctx, func(u *session.User) { u.Prompt = prompt }); err != nil {
		c.logger.Warn("persist prompt: %v", err)
	}
	c.presenter.Notify(present.LevelSuccess, "Prompt saved.")
	return nil
}

// ToggleBot enables or disables the bot.  On failure the previous
// value is kept.
func (c *Console) ToggleBot(ctx context.Context, active bool) error {
	user, ok := c.sess.User()
	if !ok {
		return c.requireLogin(ctx)
	}

	if err := c.gw.Toggle(ctx, user.Username, active); err != nil {
		return c.fail(ctx, err)
	}
	if err := c.sess.UpdateUser(ctx, func(u *session.User) { u.BotEnabled = active }); err != nil {
		c.logger.Warn("persist bot flag: %v", err)
	}
	c.ctrl.SetBotActive(active)
	if active {
		c.presenter.Notify(present.LevelSuccess, "Bot enabled.")
	} else {
		c.presenter.Notify(present.LevelSuccess, "Bot disabled.")
	}
	return nil
}

// requireLogin handles an action attempted without a session.
func (c *Console) requireLogin(ctx context.Context) error {
	if err := c.sess.End(ctx); err != nil {
		c.logger.Warn("clear session: %v", err)
	}
	c.presenter.Notify(present.LevelError, "Not logged in.")
	c.presenter.ShowLogin()
	return errors.ErrNotAuthenticated
}

// fail reports err.  A rejected token forces a logout.
func (c *Console) fail(ctx context.Context, err error) error {
	if errors.IsUnauthorized(err) {
		c.ctrl.ForceLogout(ctx)
		return err
	}
	c.presenter.Notify(present.LevelError, describe(err))
	return err
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

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wabotctl/config"
	"wabotctl/internal/errors"
	"wabotctl/internal/session"
	"wabotctl/pairing"
	"wabotctl/present"
	"wabotctl/present/web"
	"wabotctl/util"
)

func runLogin(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	fs := subFlags("login", std)
	user := fs.StringP("user", "u", "", "Username (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()

	username := *user
	if username == "" {
		if username, err = a.readLine("Username: "); err != nil {
			return err
		}
	}
	password, err := a.readPassword("Password: ")
	if err != nil {
		return err
	}
	return reported(a.console.Login(ctx, username, password))
}

func runRegister(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	fs := subFlags("register", std)
	user := fs.StringP("user", "u", "", "Username (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()

	username := *user
	if username == "" {
		if username, err = a.readLine("Username: "); err != nil {
			return err
		}
	}
	password, err := a.readPassword("Password: ")
	if err != nil {
		return err
	}
	confirm, err := a.readPassword("Confirm password: ")
	if err != nil {
		return err
	}
	return reported(a.console.Register(ctx, username, password, confirm))
}

func runLogout(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.console.Logout(ctx)
}

func runWhoami(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()

	user, ok := a.sess.User()
	if !ok {
		fmt.Fprintln(std.out, "Not logged in.")
		return &ReportedError{Err: errors.ErrNotAuthenticated}
	}
	bot := "off"
	if user.BotEnabled {
		bot = "on"
	}
	fmt.Fprintf(std.out, "user:   %s\nbot:    %s\n", user.Username, bot)
	if user.Prompt != "" {
		fmt.Fprintf(std.out, "prompt: %s\n", user.Prompt)
	}

	exp, known := session.TokenExpiry(a.sess.Token())
	switch {
	case !known:
		fmt.Fprintln(std.out, "token:  no expiry information")
	case session.TokenExpired(a.sess.Token(), time.Now()):
		fmt.Fprintf(std.out, "token:  expired at %s\n", exp.Local().Format(time.RFC1123))
	default:
		fmt.Fprintf(std.out, "token:  expires %s (in %s)\n",
			exp.Local().Format(time.RFC1123), time.Until(exp).Truncate(time.Second))
	}
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()

	_, err = a.console.CheckStatus(ctx)
	return reported(err)
}

func runPrompt(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	if len(args) == 0 {
		return fmt.Errorf("prompt: text required")
	}
	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()
	return reported(a.console.SavePrompt(ctx, strings.Join(args, " ")))
}

func runBot(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	if len(args) != 1 {
		return fmt.Errorf("bot: expected 'on' or 'off'")
	}
	var active bool
	switch strings.ToLower(args[0]) {
	case "on", "enable", "true":
		active = true
	case "off", "disable", "false":
	default:
		return fmt.Errorf("bot: expected 'on' or 'off', got %q", args[0])
	}

	a, err := newApp(ctx, cfg, std)
	if err != nil {
		return err
	}
	defer a.Close()
	return reported(a.console.ToggleBot(ctx, active))
}

func runPair(ctx context.Context, cfg *config.Config, args []string, std streams) error {
	fs := subFlags("pair", std)
	fs.StringVar(&cfg.UIAddr, "ui", cfg.UIAddr, "Serve the web console on this address")
	fs.Lookup("ui").NoOptDefVal = config.DefaultUIAddr
	fs.DurationVar(&cfg.PairTimeout, "wait", cfg.PairTimeout, "Give up after this long (0 waits until connected)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Status poll period")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "Delay between stream attempts")
	fs.IntVar(&cfg.MaxStreamAttempts, "stream-attempts", cfg.MaxStreamAttempts, "Stream attempts before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var extra []present.Presenter
	var webPresenter *web.Presenter
	if cfg.UIAddr != "" {
		webPresenter = web.NewPresenter(web.NewHub(), newLogger(cfg, std))
		extra = append(extra, webPresenter)
	}

	a, err := newApp(ctx, cfg, std, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	if webPresenter != nil {
		srv := web.NewServer(webPresenter, a.metrics, a.logger)
		addr, err := srv.Start(cfg.UIAddr)
		if err != nil {
			return fmt.Errorf("web console: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx) //nolint:errcheck
		}()
		fmt.Fprintf(std.out, "Web console: http://%s\n", addr)
	}

	if user, ok := a.sess.User(); ok {
		fmt.Fprintf(std.out, "Pairing bot for %s...\n", user.Username)
	}

	waitCtx := ctx
	if cfg.PairTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.PairTimeout)
		defer cancel()
	}

	if err := a.console.StartBot(ctx); err != nil {
		return reported(err)
	}

	ctrl := a.console.Pairing()
	st, err := ctrl.Settle(waitCtx)
	if a.logger.Enabled(util.LogVerbose) {
		a.logger.Verbose("metrics:\n%s", a.metrics.JSON())
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		snap := ctrl.Snapshot()
		return fmt.Errorf("not paired after %s (state: %s)", cfg.PairTimeout, snap.State)
	case err != nil:
		// Interrupted.
		return nil
	case st == pairing.Idle:
		return &ReportedError{Err: errors.ErrUnauthorized}
	case st == pairing.Errored:
		return &ReportedError{Err: fmt.Errorf("pairing failed: %s", ctrl.Snapshot().LastError)}
	}
	return nil
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"wabotctl/api"
	"wabotctl/config"
	"wabotctl/console"
	"wabotctl/internal/errors"
	"wabotctl/internal/metrics"
	"wabotctl/internal/retry"
	"wabotctl/internal/session"
	"wabotctl/internal/transport"
	"wabotctl/present"
	"wabotctl/util"
)

// app is one fully wired client.
type app struct {
	cfg     *config.Config
	logger  *util.Logger
	metrics *metrics.Collector
	store   *session.SQLiteStore
	sess    *session.Context
	console *console.Console
	std     streams
	lines   *bufio.Reader
}

// newApp validates cfg, opens the session database and restores any
// saved session.  extra presenters receive every render call alongside
// the terminal.
func newApp(ctx context.Context, cfg *config.Config, std streams, extra ...present.Presenter) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg, std)

	store, err := session.NewSQLite(cfg.SessionDB)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	sess := session.NewContext(store)
	if _, err := sess.Restore(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}

	m := metrics.New()
	gw := api.New(api.Options{
		BaseURL: cfg.BaseURL(),
		Timeout: cfg.RequestTimeout,
		Client:  transport.NewHTTPClient(transport.Options{DialTimeout: config.DefaultDialTimeout}),
		Tokens:  sess,
		Logger:  logger,
		Metrics: m,
	})

	var p present.Presenter = present.NewTerminal(std.out)
	if len(extra) > 0 {
		p = append(present.Multi{p}, extra...)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		sess:    sess,
		std:     std,
		lines:   bufio.NewReader(std.in),
	}
	a.console = console.New(console.Options{
		Gateway:      gw,
		Session:      sess,
		Presenter:    p,
		Logger:       logger,
		Metrics:      m,
		PollInterval: cfg.PollInterval,
		Backoff:      retry.Fixed(cfg.RetryDelay, cfg.MaxStreamAttempts),
	})
	return a, nil
}

func newLogger(cfg *config.Config, std streams) *util.Logger {
	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(std.err)
	return logger
}

func (a *app) Close() {
	a.console.Pairing().Reset()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close session store: %v", err)
	}
}

// ── prompts ──────────────────────────────────────────────────────────

// readLine prints label and reads one line.
func (a *app) readLine(label string) (string, error) {
	fmt.Fprint(a.std.err, label)
	line, err := a.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads a secret without echo when stdin is a terminal.
func (a *app) readPassword(label string) (string, error) {
	if f, ok := a.std.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.std.err, label)
		pass, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.std.err)
		if err != nil {
			return "", err
		}
		return string(pass), nil
	}
	return a.readLine(label)
}

// reported wraps an error the console already presented.
func reported(err error) error {
	if err == nil {
		return nil
	}
	return &ReportedError{Err: err}
}

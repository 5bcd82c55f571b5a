// Package config defines the runtime configuration for wabotctl and
// its validation rules.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wabotctl/internal/errors"
)

// Config holds every tuneable for a wabotctl invocation.
type Config struct {
	// ── Remote service ───────────────────────────────────────────────
	ServerURL      string // API base, e.g. https://host/api
	RequestTimeout time.Duration

	// ── Local state ──────────────────────────────────────────────────
	SessionDB string // SQLite file holding the persisted session
	EnvFile   string

	// ── Pairing ──────────────────────────────────────────────────────
	PollInterval      time.Duration
	RetryDelay        time.Duration
	MaxStreamAttempts int
	PairTimeout       time.Duration // 0 waits until connected or interrupted

	// ── Web console ──────────────────────────────────────────────────
	UIAddr string // empty disables the console

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		ServerURL:         DefaultServerURL,
		RequestTimeout:    DefaultRequestTimeout,
		SessionDB:         DefaultSessionPath(),
		EnvFile:           DefaultEnvFile,
		PollInterval:      DefaultPollInterval,
		RetryDelay:        DefaultRetryDelay,
		MaxStreamAttempts: DefaultMaxStreamAttempts,
		Verbose:           1,
	}
}

// DefaultSessionPath returns $HOME/.wabotctl/session.db, falling back
// to the working directory when no home directory is known.
func DefaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultSessionDir, DefaultSessionFile)
	}
	return filepath.Join(home, DefaultSessionDir, DefaultSessionFile)
}

// BaseURL returns ServerURL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.ServerURL, "/")
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return &errors.ConfigError{Field: "server", Message: "required"}
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return &errors.ConfigError{
			Field:   "server",
			Value:   c.ServerURL,
			Message: "not an absolute URL",
			Hint:    "use --server https://host/api",
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &errors.ConfigError{
			Field:   "server",
			Value:   c.ServerURL,
			Message: "scheme must be http or https",
			Hint:    "use --server https://host/api",
		}
	}

	if c.SessionDB == "" {
		return &errors.ConfigError{Field: "db", Message: "required"}
	}
	if c.RequestTimeout <= 0 {
		return &errors.ConfigError{Field: "timeout", Value: c.RequestTimeout, Message: "must be > 0"}
	}
	if c.PollInterval <= 0 {
		return &errors.ConfigError{Field: "poll-interval", Value: c.PollInterval, Message: "must be > 0"}
	}
	if c.RetryDelay <= 0 {
		return &errors.ConfigError{Field: "retry-delay", Value: c.RetryDelay, Message: "must be > 0"}
	}
	if c.MaxStreamAttempts < 1 {
		return &errors.ConfigError{
			Field:   "stream-attempts",
			Value:   c.MaxStreamAttempts,
			Message: "must be at least 1",
		}
	}
	if c.PairTimeout < 0 {
		return &errors.ConfigError{Field: "wait", Value: c.PairTimeout, Message: "must not be negative"}
	}
	return nil
}

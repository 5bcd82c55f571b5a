package config

// loader.go - configuration loading from .env files and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. .env file  (this file, never overrides real environment)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ── .env file ────────────────────────────────────────────────────────

// LoadEnvFile exports the variables in path into the process
// environment without overriding variables that are already set.  A
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the WABOT_ prefix.  Durations accept Go
// syntax ("5s", "1m") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WABOT_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("WABOT_DB"); v != "" {
		cfg.SessionDB = v
	}
	if v := envDuration("WABOT_TIMEOUT"); v > 0 {
		cfg.RequestTimeout = v
	}

	// Pairing
	if v := envDuration("WABOT_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v := envDuration("WABOT_RETRY_DELAY"); v > 0 {
		cfg.RetryDelay = v
	}
	if v := envInt("WABOT_STREAM_ATTEMPTS"); v > 0 {
		cfg.MaxStreamAttempts = v
	}
	if v := envDuration("WABOT_PAIR_TIMEOUT"); v > 0 {
		cfg.PairTimeout = v
	}

	// Web console
	if v := os.Getenv("WABOT_UI_ADDR"); v != "" {
		cfg.UIAddr = v
	}

	// Output
	if v := envInt("WABOT_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("WABOT_QUIET") {
		cfg.Verbose = 0
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return secondsDuration(n)
	}
	return 0
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

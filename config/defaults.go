package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, .env files and environment variable loading.

const (
	// DefaultServerURL is the API base the client talks to.
	DefaultServerURL = "http://localhost:5000/api"

	// DefaultEnvFile is read when present; a missing file is not an error.
	DefaultEnvFile = ".env"

	// DefaultSessionDir is created under the user's home directory.
	DefaultSessionDir = ".wabotctl"

	// DefaultSessionFile holds the persisted token and user profile.
	DefaultSessionFile = "session.db"

	// DefaultRequestTimeout bounds every one-shot API request.
	DefaultRequestTimeout = 15 * time.Second

	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 10 * time.Second

	// DefaultPollInterval is the fixed status polling period while a
	// pairing is pending.
	DefaultPollInterval = 5 * time.Second

	// DefaultRetryDelay is the fixed wait between push stream attempts.
	DefaultRetryDelay = 5 * time.Second

	// DefaultMaxStreamAttempts caps push stream attempts per pairing.
	DefaultMaxStreamAttempts = 3

	// DefaultUIAddr is where the web console listens when enabled
	// without an explicit address.
	DefaultUIAddr = "127.0.0.1:8090"
)

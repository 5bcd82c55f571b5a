// Package errors provides the error taxonomy shared by every wabotctl
// package.
//
// A remote call ends in one of four outcomes: success, [ErrUnauthorized]
// (the session is no longer valid), an [AppError] (the server rejected the
// request for a business reason) or a [NetworkError] (the request never
// produced a usable response).  Callers classify with [Is] and [As].
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrUnauthorized is returned for any HTTP 401.  It is the only
	// trigger for a forced logout.
	ErrUnauthorized = errors.New("session expired, log in again")
	// ErrNotAuthenticated is returned when an action needs a session
	// and none is loaded.  No network call is made in that case.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrStreamClosed is reported by a pairing stream after Close.
	ErrStreamClosed = errors.New("pairing stream closed")
	// ErrTokenMissing is returned when a login succeeds without a token.
	ErrTokenMissing = errors.New("authentication token not received")
)

// GenericAppMessage is used when the server rejects a request without
// saying why.
const GenericAppMessage = "request failed"

// ── Structured error types ───────────────────────────────────────────

// AppError is a business-rule rejection reported by the server.  Its
// message is shown to the user verbatim.
type AppError struct {
	Status  int    // HTTP status code, 0 when unknown
	Message string // server supplied or generic message
}

func (e *AppError) Error() string { return e.Message }

// NetworkError represents a transport failure: DNS, refused connection,
// timeout, or a connection dropped before a response arrived.
type NetworkError struct {
	Op        string // "GET", "POST", "stream"
	Addr      string // URL involved
	Err       error  // underlying error
	Retryable bool   // whether the condition looks transient
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// App creates an AppError, substituting [GenericAppMessage] for an
// empty message.
func App(status int, message string) *AppError {
	if message == "" {
		message = GenericAppMessage
	}
	return &AppError{Status: status, Message: message}
}

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// ── Classification helpers ───────────────────────────────────────────

// IsUnauthorized reports whether err means the session is invalid.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// AppMessage returns the user-facing message of an AppError in err's
// chain.
func AppMessage(err error) (string, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message, true
	}
	return "", false
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

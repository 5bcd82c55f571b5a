// Package transport builds the HTTP client used to reach the service.
// Connection establishment is separate from what travels over the
// connection; a custom Dialer can be plugged in without touching the
// API layer.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Dialer opens outbound network connections.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures the HTTP client.
type Options struct {
	// DialTimeout bounds connection establishment (default 10s).
	DialTimeout time.Duration
	// TLSHandshakeTimeout bounds the TLS handshake (default 10s).
	TLSHandshakeTimeout time.Duration
	// Dialer replaces the default TCP dialer.
	Dialer Dialer
}

// NewHTTPClient returns a client with no overall timeout.  One-shot
// requests are bounded by their context; the pairing stream stays
// open for as long as its context allows.
func NewHTTPClient(opts Options) *http.Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.TLSHandshakeTimeout <= 0 {
		opts.TLSHandshakeTimeout = 10 * time.Second
	}
	d := opts.Dialer
	if d == nil {
		d = &TCPDialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         d.Dial,
			TLSHandshakeTimeout: opts.TLSHandshakeTimeout,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

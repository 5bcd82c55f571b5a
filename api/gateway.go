// Package api is the client side of the bot automation service.
//
// Every call goes through [Gateway.Call], which attaches credentials and
// sorts the response into one of four outcomes: success,
// [errors.ErrUnauthorized], [*errors.AppError] or [*errors.NetworkError].
// The gateway never retries.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"wabotctl/internal/errors"
	"wabotctl/internal/metrics"
	"wabotctl/util"
)

// maxBodySize bounds how much of a JSON response is read.
const maxBodySize = 1 << 20

// TokenSource supplies the current bearer token, "" when logged out.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Outcome names the four ways a call can end.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnauthorized
	OutcomeAppError
	OutcomeNetworkError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeAppError:
		return "app-error"
	case OutcomeNetworkError:
		return "network-error"
	default:
		return "unknown"
	}
}

// OutcomeOf classifies an error returned by the gateway.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.IsUnauthorized(err):
		return OutcomeUnauthorized
	case errors.IsNetwork(err):
		return OutcomeNetworkError
	default:
		return OutcomeAppError
	}
}

// Options configures a Gateway.
type Options struct {
	BaseURL string        // API base without trailing slash
	Timeout time.Duration // per one-shot request; streams are bounded by ctx only
	Client  *http.Client  // optional, defaults to a fresh client
	Tokens  TokenSource
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Gateway performs calls against the remote service.
type Gateway struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	tokens  TokenSource
	logger  *util.Logger
	metrics *metrics.Collector
}

// New returns a Gateway for opts.
func New(opts Options) *Gateway {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.Discard()
	}
	return &Gateway{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		client:  client,
		tokens:  opts.Tokens,
		logger:  logger.With("api"),
		metrics: opts.Metrics,
	}
}

// WithToken returns a copy of g that authenticates with token.
func (g *Gateway) WithToken(token string) *Gateway {
	c := *g
	c.tokens = StaticToken(token)
	return &c
}

// envelope is the common response wrapper.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Call sends body (JSON encoded when non-nil) to path and decodes a
// successful response into out (when non-nil).  With auth set the
// bearer token is attached if one exists.
func (g *Gateway) Call(ctx context.Context, method, path string, body, out any, auth bool) error {
	url := g.baseURL + path

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rdr = bytes.NewReader(data)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if auth {
		g.authorize(req)
	}

	g.logger.Debug("%s %s (request %s)", method, path, reqID)
	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.APICall(true)
		return errors.Wrap(method, url, err)
	}
	defer resp.Body.Close()

	err = decodeResponse(resp, method, url, out)
	g.metrics.APICall(err != nil)
	if err != nil {
		g.logger.Verbose("%s %s: %s: %v", method, path, OutcomeOf(err), err)
	}
	return err
}

func (g *Gateway) authorize(req *http.Request) {
	if g.tokens == nil {
		return
	}
	if tok := g.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// decodeResponse maps an HTTP response onto the outcome taxonomy.
func decodeResponse(resp *http.Response, method, url string, out any) error {
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize)) //nolint:errcheck
		return errors.ErrUnauthorized
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(method, url, err)
	}

	var env envelope
	parseErr := json.Unmarshal(data, &env)
	if len(bytes.TrimSpace(data)) == 0 {
		parseErr = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if parseErr != nil || msg == "" {
			msg = fmt.Sprintf("server returned %d", resp.StatusCode)
		}
		return errors.App(resp.StatusCode, msg)
	}

	if parseErr != nil {
		return errors.App(resp.StatusCode, "unexpected response from server")
	}
	if env.Success != nil && !*env.Success {
		return errors.App(resp.StatusCode, env.Message)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.App(resp.StatusCode, "unexpected response from server")
		}
	}
	return nil
}

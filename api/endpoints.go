package api

import (
	"context"
	"net/http"
	"net/url"

	"wabotctl/internal/errors"
	"wabotctl/internal/session"
)

// NotConnectedPhone is what the service reports as the phone number of
// an account that has not paired yet.
const NotConnectedPhone = "Não conectado"

// Credentials is the login and register request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is a successful login.
type LoginResult struct {
	Token string        `json:"token"`
	User  *session.User `json:"user"`
}

// Status is the bot connection state reported by the service.
type Status struct {
	Connected   bool   `json:"connected"`
	PhoneNumber string `json:"phoneNumber"`
	BotActive   bool   `json:"botActive"`
}

// KnownPhone reports whether PhoneNumber names a real paired number.
func (s Status) KnownPhone() bool {
	return s.PhoneNumber != "" && s.PhoneNumber != NotConnectedPhone
}

// Paired reports whether the status proves a durable connection.
func (s Status) Paired() bool {
	return s.Connected && s.KnownPhone()
}

// Login exchanges credentials for a token and profile.  A success
// without a token is reported as [errors.ErrTokenMissing].
func (g *Gateway) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	err := g.Call(ctx, http.MethodPost, "/auth/login",
		Credentials{Username: username, Password: password}, &res, false)
	if err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.ErrTokenMissing
	}
	if res.User == nil || res.User.Username == "" {
		res.User = &session.User{Username: username}
	}
	return &res, nil
}

// Register creates an account.
func (g *Gateway) Register(ctx context.Context, username, password string) error {
	return g.Call(ctx, http.MethodPost, "/auth/register",
		Credentials{Username: username, Password: password}, nil, false)
}

// Logout invalidates the current token server-side.  Callers that
// already dropped the session use [Gateway.WithToken].
func (g *Gateway) Logout(ctx context.Context) error {
	return g.Call(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
}

// Verify checks that the current token is still accepted.
func (g *Gateway) Verify(ctx context.Context) error {
	return g.Call(ctx, http.MethodGet, "/auth/verify", nil, nil, true)
}

// InitBot asks the service to start a bot connection for username.
func (g *Gateway) InitBot(ctx context.Context, username string) error {
	return g.Call(ctx, http.MethodPost, "/whatsapp/init",
		map[string]string{"username": username}, nil, true)
}

// Status returns the bot connection status of username.
func (g *Gateway) Status(ctx context.Context, username string) (Status, error) {
	var res struct {
		Status *Status `json:"status"`
	}
	err := g.Call(ctx, http.MethodGet, "/whatsapp/status/"+url.PathEscape(username), nil, &res, true)
	if err != nil {
		return Status{}, err
	}
	if res.Status == nil {
		return Status{}, errors.App(http.StatusOK, "status unavailable")
	}
	return *res.Status, nil
}

// UpdatePrompt stores the bot prompt of username.
func (g *Gateway) UpdatePrompt(ctx context.Context, username, prompt string) error {
	return g.Call(ctx, http.MethodPost, "/whatsapp/update-prompt",
		map[string]string{"username": username, "prompt": prompt}, nil, true)
}

// Toggle enables or disables the bot of username.
func (g *Gateway) Toggle(ctx context.Context, username string, active bool) error {
	body := struct {
		Username string `json:"username"`
		Active   bool   `json:"active"`
	}{username, active}
	return g.Call(ctx, http.MethodPost, "/whatsapp/toggle", body, nil, true)
}

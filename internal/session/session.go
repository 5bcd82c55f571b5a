// Package session holds the authenticated user's token and profile.
//
// A [Session] is owned by a [Context], which gives it an explicit
// lifecycle: Begin on login or restore, End on logout or when the
// server invalidates the token.  The token and the user are always set
// together or both absent.
package session

import (
	"context"
	"fmt"
	"sync"

	"wabotctl/internal/errors"
)

// User is the per-account profile returned by the login endpoint.
type User struct {
	Username   string `json:"username"`
	BotEnabled bool   `json:"botAtivo"`
	Prompt     string `json:"prompt"`
}

// Session pairs an opaque bearer token with its user.
type Session struct {
	Token string
	User  User
}

// Valid reports whether both halves of the session are present.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.User.Username != ""
}

// Context is the process-wide session holder.  It keeps the in-memory
// copy and the persisted copy in step.
type Context struct {
	// persist serialises writes to the store together with the
	// in-memory change they belong to; mu alone guards cur for readers.
	persist sync.Mutex
	mu      sync.RWMutex
	store   Store
	cur     *Session
}

// NewContext returns an empty Context backed by store.
func NewContext(store Store) *Context {
	return &Context{store: store}
}

// Restore loads the persisted session, if any.  It reports whether a
// session is now active.
func (c *Context) Restore(ctx context.Context) (bool, error) {
	c.persist.Lock()
	defer c.persist.Unlock()

	s, err := c.store.Restore(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()
	return s != nil, nil
}

// Begin persists and activates a new session.
func (c *Context) Begin(ctx context.Context, token string, user User) error {
	s := &Session{Token: token, User: user}
	if token == "" {
		return errors.ErrTokenMissing
	}
	if !s.Valid() {
		return fmt.Errorf("session: user profile has no username")
	}

	c.persist.Lock()
	defer c.persist.Unlock()
	if err := c.store.Save(ctx, s); err != nil {
		return err
	}

	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()
	return nil
}

// End drops the in-memory session and clears the persisted copy.  It
// is idempotent.
func (c *Context) End(ctx context.Context) error {
	c.persist.Lock()
	defer c.persist.Unlock()

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	return c.store.Clear(ctx)
}

// Token returns the bearer token, or "" without a session.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return ""
	}
	return c.cur.Token
}

// User returns a copy of the active user.
func (c *Context) User() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return User{}, false
	}
	return c.cur.User, true
}

// Authenticated reports whether a session is active.
func (c *Context) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.Valid()
}

// UpdateUser applies fn to the active user and persists the result.
// It is serialised with End, so a logout never loses to a late save.
func (c *Context) UpdateUser(ctx context.Context, fn func(*User)) error {
	c.persist.Lock()
	defer c.persist.Unlock()

	c.mu.RLock()
	if c.cur == nil {
		c.mu.RUnlock()
		return errors.ErrNotAuthenticated
	}
	next := *c.cur
	c.mu.RUnlock()

	fn(&next.User)
	if err := c.store.Save(ctx, &next); err != nil {
		return err
	}

	c.mu.Lock()
	c.cur = &next
	c.mu.Unlock()
	return nil
}

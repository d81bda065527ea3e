// Package session holds the client's current identity.
//
// A Context is created once per process from the persisted credential slot
// and handed by reference to everything that makes privileged calls: the
// Resource Client and the terminal bridge. Logout invalidates it for all of
// them at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ctf-platform/ctf/internal/model"
)

// TokenSlot is the fixed name under which the identity token is persisted.
const TokenSlot = "token"

// TokenStore persists named credential slots.
type TokenStore interface {
	Get(ctx context.Context, name string) (string, error)
	Put(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// Context is the explicit session-context object: one current identity per client.
type Context struct {
	store TokenStore
	now   func() time.Time

	mu          sync.RWMutex
	token       string
	invalidated bool
	done        chan struct{}
}

// Option configures a Context.
type Option func(*Context)

// WithClock sets the clock used to decide whether a token has expired.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		c.now = now
	}
}

// Load reads the persisted token (if any) from store.
func Load(ctx context.Context, store TokenStore, opts ...Option) (*Context, error) {
	token, err := store.Get(ctx, TokenSlot)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	c := &Context{
		store: store,
		now:   time.Now,
		token: token,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the current token, or "" when there is none.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.invalidated {
		return ""
	}
	return c.token
}

// Require returns the token or an error wrapping model.ErrMissingContext when
// no usable token is present. Tokens whose exp claim has passed count as absent.
func (c *Context) Require() (string, error) {
	token := c.Token()
	if token == "" {
		return "", fmt.Errorf("%w: not logged in", model.ErrMissingContext)
	}
	if exp, ok := Expiry(token); ok && !c.now().Before(exp) {
		return "", fmt.Errorf("%w: session expired at %s", model.ErrMissingContext, exp.Format(time.RFC3339))
	}
	return token, nil
}

// SetToken persists token as the current identity (after login or registration).
func (c *Context) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", model.ErrMissingContext)
	}
	if err := c.store.Put(ctx, TokenSlot, token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if c.invalidated {
		c.invalidated = false
		c.done = make(chan struct{})
	}
	return nil
}

// Logout clears the persisted token and invalidates the context. Anything
// watching Done is notified. Calling Logout twice is harmless.
func (c *Context) Logout(ctx context.Context) error {
	err := c.store.Delete(ctx, TokenSlot)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	if !c.invalidated {
		c.invalidated = true
		close(c.done)
	}
	return err
}

// Done is closed when the context is invalidated by Logout.
func (c *Context) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Expiry reads the exp claim of a JWT without verifying its signature. The
// platform remains the authority; this only lets the client fail early.
func Expiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Subject returns the sub claim of a JWT (the username), or "" when absent.
func Subject(token string) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return claims.Subject
}

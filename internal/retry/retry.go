// Package retry wraps remote operations with session-expiry recovery:
// refresh the session's cookies and run the whole operation again,
// bounded by configuration.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/frostpix/frostpix/internal/icloud"
)

// DefaultCookieValidity is how long a cookie set is trusted before a
// proactive refresh. The service's cookies have been observed to go
// stale after roughly one hour.
const DefaultCookieValidity = time.Hour

// DefaultMaxAttempts bounds how many times one logical operation runs.
const DefaultMaxAttempts = 3

// Session is the slice of the auth session the controller needs.
type Session interface {
	Refresh(ctx context.Context) error
	CookiesFresh(window time.Duration) bool
}

// Controller reruns operations that fail from session expiry. All other
// failures propagate immediately: network errors, malformed payloads and
// unexpected statuses are not this layer's problem to hide.
type Controller struct {
	session        Session
	maxAttempts    int
	cookieValidity time.Duration
	logger         zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithMaxAttempts bounds the attempts per operation.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithCookieValidity sets the window after which cookies are refreshed
// before even trying the operation.
func WithCookieValidity(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.cookieValidity = d
		}
	}
}

// New creates a Controller around the given session.
func New(session Session, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		session:        session,
		maxAttempts:    DefaultMaxAttempts,
		cookieValidity: DefaultCookieValidity,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs op, refreshing the session and rerunning the operation from
// scratch when it fails with an expired session. Rerunning from scratch
// rather than from a partial page offset keeps pagination consistent.
// When the attempt bound is exhausted the last error is returned tagged
// with the number of attempts made.
func (c *Controller) Do(ctx context.Context, name string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if !c.session.CookiesFresh(c.cookieValidity) {
			c.logger.Debug().Str("op", name).Msg("cookies stale, refreshing before attempt")
			if err := c.session.Refresh(ctx); err != nil {
				return fmt.Errorf("refreshing session for %s: %w", name, err)
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, icloud.ErrSessionExpired) {
			return err
		}
		if attempt >= c.maxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
		}

		c.logger.Warn().Str("op", name).Int("attempt", attempt).Msg("session expired mid-operation, refreshing and retrying")
		if err := c.session.Refresh(ctx); err != nil {
			return fmt.Errorf("refreshing session for %s: %w", name, err)
		}
	}
}

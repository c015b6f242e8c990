package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// renewThreshold is how close to expiry a token must be before a gated
	// call renews it synchronously.
	renewThreshold = 5 * time.Minute
	// checkLead is how long before expiry the deferred self-check fires.
	checkLead = time.Minute

	selfCheckTimeout = 30 * time.Second
)

// Session is one authenticated identity: a bearer token plus an optional
// expiry. A session with a zero expiry holds a static token and is never
// auto-renewed. A Session is owned by exactly one Client; it is not shared.
type Session struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	timer     *time.Timer
}

// NewSession creates a session around a static, non-renewable token.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// NewSessionWithExpiry creates a session whose token expires at the given
// time and is kept alive by the renewal gate.
func NewSessionWithExpiry(token string, expiresAt time.Time) *Session {
	return &Session{token: token, expiresAt: expiresAt}
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// ExpiresAt returns the current expiry, zero for static tokens.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Cancel stops the pending self-check timer. Must be called when the owning
// Client is discarded, so no timer outlives it.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// renewIfNeeded is the gate every authenticated call passes through. If the
// token expires within renewThreshold it is renewed synchronously before the
// call proceeds; either way the deferred self-check is rescheduled to fire
// checkLead before the (possibly updated) expiry. A renewal failure is fatal
// to the gated call: silently proceeding on a stale token would mask revoked
// credentials.
//
// The session lock is held across the renewal request, so a second gated
// call arriving mid-renewal waits and then observes the refreshed expiry
// instead of issuing a duplicate renew.
func (s *Session) renewIfNeeded(ctx context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiresAt.IsZero() {
		return nil
	}

	if time.Until(s.expiresAt) <= renewThreshold {
		auth, err := c.tokenRenewSelf(ctx, s.token)
		if err != nil {
			renewalsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("renewing session token: %w", err)
		}
		token := s.token
		if auth.ClientToken != "" {
			token = auth.ClientToken
		}
		lookup, err := c.tokenLookupSelf(ctx, token)
		if err != nil {
			renewalsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("refreshing token expiry: %w", err)
		}
		s.token = token
		s.expiresAt = parseExpireTime(lookup.ExpireTime)
		renewalsTotal.WithLabelValues("ok").Inc()
		log.Debug().Time("expires_at", s.expiresAt).Msg("session token renewed")
	}

	s.scheduleLocked(c)
	return nil
}

// scheduleLocked (re)arms the self-check timer, canceling any previous one.
// A non-positive delay arms nothing; the next gated call picks it up.
func (s *Session) scheduleLocked(c *Client) {
	s.stopTimerLocked()
	if s.expiresAt.IsZero() {
		return
	}
	delay := time.Until(s.expiresAt.Add(-checkLead))
	if delay <= 0 {
		return
	}
	s.timer = time.AfterFunc(delay, func() { s.selfCheck(c) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// selfCheck runs the renewal gate from the timer. There is no caller to
// propagate to here, so failures are only logged; the next gated call will
// surface them.
func (s *Session) selfCheck(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), selfCheckTimeout)
	defer cancel()
	if err := s.renewIfNeeded(ctx, c); err != nil {
		log.Warn().Err(err).Msg("scheduled session renewal failed")
	}
}

// parseExpireTime turns a lookup-self expire_time into a deadline. An empty
// or unparseable value means the token does not expire.
func parseExpireTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		log.Warn().Str("expire_time", v).Msg("unparseable token expire_time")
		return time.Time{}
	}
	return t
}

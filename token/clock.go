package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Clock answers expiry questions about access tokens. Tokens are decoded without
// signature verification; anything that cannot be decoded, or carries no exp claim,
// is reported as already expired.
type Clock struct {
	nowFunc func() time.Time
}

type ClockOption func(*Clock)

func WithNowFunc(now func() time.Time) ClockOption {
	return func(c *Clock) {
		c.nowFunc = now
	}
}

func NewClock(options ...ClockOption) *Clock {
	c := &Clock{}
	for _, opt := range options {
		opt(c)
	}
	if c.nowFunc == nil {
		c.nowFunc = time.Now
	}
	return c
}

func (c *Clock) Now() time.Time {
	return c.nowFunc()
}

// ExpiresAt returns the token's exp claim. ok is false for malformed tokens.
func (c *Clock) ExpiresAt(rawToken string) (exp time.Time, ok bool) {
	if strings.Count(rawToken, ".") != 2 {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	numericDate, err := parsed.Claims.GetExpirationTime()
	if err != nil || numericDate == nil {
		return time.Time{}, false
	}
	return numericDate.Time, true
}

// TimeUntilExpiry is max(exp - now, 0)
func (c *Clock) TimeUntilExpiry(rawToken string) time.Duration {
	return c.ExpiryBufferedRemaining(rawToken, 0)
}

// ExpiryBufferedRemaining is max(exp - now - buffer, 0)
func (c *Clock) ExpiryBufferedRemaining(rawToken string, buffer time.Duration) time.Duration {
	exp, ok := c.ExpiresAt(rawToken)
	if !ok {
		return 0
	}
	remaining := exp.Sub(c.nowFunc()) - buffer
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Clock) IsNearExpiry(rawToken string, buffer time.Duration) bool {
	return c.ExpiryBufferedRemaining(rawToken, buffer) == 0
}

func (c *Clock) IsExpired(rawToken string) bool {
	return c.TimeUntilExpiry(rawToken) == 0
}

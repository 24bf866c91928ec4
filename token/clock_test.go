package token_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/testutil"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

const buffer = 60 * time.Second

func fixedClock(now time.Time) *token.Clock {
	return token.NewClock(token.WithNowFunc(func() time.Time { return now }))
}

func TestClock_IsNearExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := fixedClock(now)

	t.Run("expires inside buffer", func(t *testing.T) {
		tok := testutil.MintAccessToken("user-1", now.Add(30*time.Second))
		require.True(t, c.IsNearExpiry(tok, buffer))
	})

	t.Run("expires outside buffer", func(t *testing.T) {
		tok := testutil.MintAccessToken("user-1", now.Add(120*time.Second))
		require.False(t, c.IsNearExpiry(tok, buffer))
	})

	t.Run("already expired", func(t *testing.T) {
		tok := testutil.MintAccessToken("user-1", now.Add(-time.Minute))
		require.True(t, c.IsNearExpiry(tok, 0))
		require.True(t, c.IsExpired(tok))
	})
}

func TestClock_ExpiryBufferedRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := fixedClock(now)
	tok := testutil.MintAccessToken("user-1", now.Add(15*time.Minute))

	require.Equal(t, 14*time.Minute, c.ExpiryBufferedRemaining(tok, buffer))
	require.Equal(t, 15*time.Minute, c.TimeUntilExpiry(tok))
	require.Equal(t, time.Duration(0), c.ExpiryBufferedRemaining(tok, 20*time.Minute))

	exp, ok := c.ExpiresAt(tok)
	require.True(t, ok)
	require.Equal(t, now.Add(15*time.Minute).Unix(), exp.Unix())
}

func TestClock_FailsSoftOnMalformedTokens(t *testing.T) {
	c := token.NewClock()

	for name, raw := range map[string]string{
		"empty":            "",
		"one segment":      "not-a-jwt",
		"two segments":     "abc.def",
		"four segments":    "a.b.c.d",
		"garbage payload":  "eyJhbGciOiJIUzI1NiJ9.!!!.sig",
		"json not object":  "eyJhbGciOiJIUzI1NiJ9.WzEsMl0.sig",
		"no exp claim":     testutil.MintTokenWithoutExpiry("user-1"),
		"opaque refresher": testutil.NewRefreshToken(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, ok := c.ExpiresAt(raw)
				require.False(t, ok)
				require.Equal(t, time.Duration(0), c.ExpiryBufferedRemaining(raw, buffer))
				require.True(t, c.IsNearExpiry(raw, buffer))
				require.True(t, c.IsExpired(raw))
			})
		})
	}
}

func TestClock_DoesNotVerifySignature(t *testing.T) {
	now := time.Now()
	tok := testutil.MintAccessToken("user-1", now.Add(time.Hour))
	tampered := tok[:len(tok)-4] + "AAAA"

	require.False(t, token.NewClock().IsNearExpiry(tampered, buffer))
}

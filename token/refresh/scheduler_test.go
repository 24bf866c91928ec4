package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/internal/testutil"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var schedulerNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTimers records armed callbacks instead of waiting on the wall clock.
type fakeTimers struct {
	lock   sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (ft *fakeTimers) afterFunc(d time.Duration, fn func()) refresh.Timer {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	ft.timers = append(ft.timers, t)
	return t
}

func (ft *fakeTimers) last(t *testing.T) *fakeTimer {
	t.Helper()
	ft.lock.Lock()
	defer ft.lock.Unlock()
	require.NotEmpty(t, ft.timers)
	return ft.timers[len(ft.timers)-1]
}

func (ft *fakeTimers) count() int {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	return len(ft.timers)
}

type stubRefresher struct {
	lock   sync.Mutex
	result string
	calls  int
}

func (s *stubRefresher) Refresh(context.Context) string {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls++
	return s.result
}

type stubTokenReader struct {
	refreshToken string
}

func (s stubTokenReader) RefreshToken(context.Context) (string, error) {
	return s.refreshToken, nil
}

type schedulerFixture struct {
	timers    *fakeTimers
	refresher *stubRefresher
	metrics   *metrics.Metrics
	scheduler *refresh.Scheduler
}

func setupScheduler(t *testing.T, refreshToken string) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		timers:    &fakeTimers{},
		refresher: &stubRefresher{},
		metrics:   metrics.New(nil),
	}
	f.scheduler = refresh.NewScheduler(f.refresher, stubTokenReader{refreshToken: refreshToken},
		refresh.WithClock(token.NewClock(token.WithNowFunc(func() time.Time { return schedulerNow }))),
		refresh.WithTimerFunc(f.timers.afterFunc),
		refresh.WithSchedulerMetrics(f.metrics),
	)
	return f
}

func TestScheduler_DelayIsExpiryMinusBuffer(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))

	require.True(t, f.scheduler.Armed())
	require.Equal(t, 14*time.Minute, f.timers.last(t).delay)
	require.Equal(t, 14*time.Minute, f.scheduler.NextDelay())
}

func TestScheduler_DelayNeverBelowMinimum(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(30*time.Second)))

	require.Equal(t, 10*time.Second, f.timers.last(t).delay)
}

func TestScheduler_ExpiredOrMalformedTokenDoesNotArm(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(-time.Minute)))
	f.scheduler.Arm("not-a-jwt")
	f.scheduler.Arm("")

	require.False(t, f.scheduler.Armed())
	require.Zero(t, f.timers.count())
}

func TestScheduler_RearmReplacesPendingTimer(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))
	first := f.timers.last(t)
	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(30*time.Minute)))

	require.True(t, first.stopped)
	require.Equal(t, 2, f.timers.count())

	// a stale callback that slipped past Stop must not refresh
	first.fn()
	require.Zero(t, f.refresher.calls)
}

func TestScheduler_FireRefreshesAndRearms(t *testing.T) {
	f := setupScheduler(t, "rt-1")
	f.refresher.result = testutil.MintAccessToken("u1", schedulerNow.Add(20*time.Minute))

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))
	f.timers.last(t).fn()

	require.Equal(t, 1, f.refresher.calls)
	require.Equal(t, 2, f.timers.count())
	require.Equal(t, 19*time.Minute, f.timers.last(t).delay)
	require.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.ScheduledRefreshes))
}

func TestScheduler_FailedRefreshDoesNotRearm(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))
	f.timers.last(t).fn()

	require.Equal(t, 1, f.refresher.calls)
	require.Equal(t, 1, f.timers.count())
	require.False(t, f.scheduler.Armed())
}

func TestScheduler_NoRefreshTokenSkipsRefresh(t *testing.T) {
	f := setupScheduler(t, "")

	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))
	f.timers.last(t).fn()

	require.Zero(t, f.refresher.calls)
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	f := setupScheduler(t, "rt-1")

	f.scheduler.Cancel()
	f.scheduler.Arm(testutil.MintAccessToken("u1", schedulerNow.Add(15*time.Minute)))
	pending := f.timers.last(t)

	f.scheduler.Cancel()
	f.scheduler.Cancel()

	require.True(t, pending.stopped)
	require.False(t, f.scheduler.Armed())
	pending.fn()
	require.Zero(t, f.refresher.calls)
}

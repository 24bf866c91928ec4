package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/rs/zerolog/log"
)

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// TimerFunc arms f to run once after d.
type TimerFunc func(d time.Duration, f func()) Timer

// RefreshTokenReader is the part of the session store the scheduler needs.
type RefreshTokenReader interface {
	RefreshToken(ctx context.Context) (string, error)
}

// AccessRefresher performs (or joins) a refresh, returning "" on failure.
type AccessRefresher interface {
	Refresh(ctx context.Context) string
}

// Scheduler renews the access token ahead of expiry. At most one timer is
// pending; every Arm replaces the previous one.
type Scheduler struct {
	refresher AccessRefresher
	store     RefreshTokenReader
	clock     *token.Clock
	buffer    time.Duration
	minDelay  time.Duration
	timerFunc TimerFunc
	metrics   *metrics.Metrics

	lock      sync.Mutex
	timer     Timer
	seq       uint64
	nextDelay time.Duration
}

type SchedulerOption func(*Scheduler)

func WithBuffer(buffer time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.buffer = buffer
	}
}

func WithMinDelay(minDelay time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.minDelay = minDelay
	}
}

func WithClock(clock *token.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithTimerFunc replaces time.AfterFunc, primarily for tests.
func WithTimerFunc(fn TimerFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.timerFunc = fn
	}
}

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func NewScheduler(refresher AccessRefresher, store RefreshTokenReader, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		refresher: refresher,
		store:     store,
		buffer:    config.DefaultRefreshBuffer,
		minDelay:  config.DefaultMinRefreshDelay,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.clock == nil {
		s.clock = token.NewClock()
	}
	if s.timerFunc == nil {
		s.timerFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Arm cancels any pending refresh and, unless accessToken is already expired,
// schedules the next one for max(timeUntilExpiry - buffer, minDelay).
func (s *Scheduler) Arm(accessToken string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cancelLocked()

	if s.clock.IsExpired(accessToken) {
		return
	}

	delay := s.clock.TimeUntilExpiry(accessToken) - s.buffer
	if delay < s.minDelay {
		delay = s.minDelay
	}

	seq := s.seq
	s.nextDelay = delay
	s.timer = s.timerFunc(delay, func() { s.fire(seq) })
	log.Debug().Str("component", "refresh_scheduler").Dur("delay", delay).Msg("proactive refresh armed")
}

// Cancel stops the pending refresh, if any. Safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cancelLocked()
}

func (s *Scheduler) Armed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.timer != nil
}

// NextDelay is the delay used by the most recent Arm.
func (s *Scheduler) NextDelay() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.nextDelay
}

func (s *Scheduler) cancelLocked() {
	// seq moves on every cancel so a firing that already started cannot re-arm
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(seq uint64) {
	s.lock.Lock()
	if seq != s.seq || s.timer == nil {
		s.lock.Unlock()
		return
	}
	s.timer = nil
	s.lock.Unlock()

	s.metrics.ScheduledRefreshes.Inc()
	logger := log.With().Str("component", "refresh_scheduler").Logger()
	ctx := context.Background()

	refreshToken, err := s.store.RefreshToken(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reading refresh token")
		return
	}
	if refreshToken == "" {
		return
	}

	accessToken := s.refresher.Refresh(ctx)
	if accessToken == "" {
		// The next request's 401 handling decides whether the session is gone.
		logger.Warn().Msg("proactive refresh failed, leaving session as is")
		return
	}

	s.lock.Lock()
	superseded := seq != s.seq
	s.lock.Unlock()
	if superseded {
		return
	}
	s.Arm(accessToken)
}

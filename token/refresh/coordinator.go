package refresh

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const flightKey = "refresh"

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (oauthmodel.TokenResponse, error)
}

// Coordinator serializes refreshes: while one round-trip is in flight every other
// caller joins it and receives the same outcome.
type Coordinator struct {
	store     *sessions.Store
	refresher Refresher
	metrics   *metrics.Metrics
	group     singleflight.Group
	inFlight  atomic.Bool

	listenersLock  sync.RWMutex
	listeners      map[int]func(accessToken string)
	nextListenerID int
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func NewCoordinator(store *sessions.Store, refresher Refresher, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		listeners: make(map[int]func(string)),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	return c
}

// Refresh returns the new access token, or "" when the refresh failed, the
// session was cleared while it ran, or ctx ended before the outcome arrived.
// The round-trip itself is never cancelled once started.
func (c *Coordinator) Refresh(ctx context.Context) string {
	detached := context.WithoutCancel(ctx)
	results := c.group.DoChan(flightKey, func() (any, error) {
		return c.roundTrip(detached), nil
	})

	select {
	case res := <-results:
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

// InFlight reports whether a refresh round-trip is running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// OnRefreshed registers fn to run with every new access token, before waiters are
// released. fn must not call Refresh.
func (c *Coordinator) OnRefreshed(fn func(accessToken string)) (unsubscribe func()) {
	c.listenersLock.Lock()
	defer c.listenersLock.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	return func() {
		c.listenersLock.Lock()
		defer c.listenersLock.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) roundTrip(ctx context.Context) string {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	logger := log.With().Str("component", "refresh_coordinator").Str("refresh_id", uuid.New().String()).Logger()
	generation := c.store.Generation()

	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("reading refresh token")
		c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return ""
	}
	if refreshToken == "" {
		logger.Debug().Err(autherrors.ErrNoRefreshToken).Msg("nothing to refresh")
		c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeNoRefreshToken).Inc()
		return ""
	}

	c.metrics.RefreshRoundTrips.Inc()
	tr, err := c.refresher.Refresh(ctx, refreshToken)
	if err == nil {
		err = tr.Validate()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("refresh failed")
		c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return ""
	}

	applied, err := c.store.SaveRefreshed(ctx, generation, sessions.PairFromResponse(tr))
	if err != nil {
		logger.Error().Err(err).Msg("persisting refreshed credentials")
		c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return ""
	}
	if !applied {
		logger.Info().Msg("session cleared during refresh, discarding result")
		c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeDiscarded).Inc()
		return ""
	}

	c.metrics.RefreshOutcomes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Debug().Msg("credentials rotated")
	c.notify(tr.AccessToken)
	return tr.AccessToken
}

func (c *Coordinator) notify(accessToken string) {
	c.listenersLock.RLock()
	fns := make([]func(string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersLock.RUnlock()

	for _, fn := range fns {
		fn(accessToken)
	}
}

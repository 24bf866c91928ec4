package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth_session"

// Refresh outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeNoRefreshToken = "no_refresh_token"
	OutcomeDiscarded      = "discarded"
)

// Metrics are the session manager's counters. They are created unregistered;
// pass a Registerer to expose them.
type Metrics struct {
	RefreshRoundTrips  prometheus.Counter
	RefreshOutcomes    *prometheus.CounterVec
	ScheduledRefreshes prometheus.Counter
	Retries            *prometheus.CounterVec
	Invalidations      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshRoundTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_round_trips_total",
			Help:      "Refresh requests sent to the backend.",
		}),
		RefreshOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_outcomes_total",
			Help:      "Refresh operations by outcome.",
		}, []string{"outcome"}),
		ScheduledRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_refreshes_total",
			Help:      "Proactive refresh timer firings.",
		}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_retries_total",
			Help:      "Requests re-issued after a 401, by retried status class.",
		}, []string{"result"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_invalidations_total",
			Help:      "Sessions cleared because a refresh after 401 failed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.RefreshRoundTrips, m.RefreshOutcomes, m.ScheduledRefreshes, m.Retries, m.Invalidations)
	}
	return m
}

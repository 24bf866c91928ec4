package metrics_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.RefreshOutcomes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	m.Invalidations.Inc()

	count, err := testutil.GatherAndCount(reg, "auth_session_refresh_outcomes_total", "auth_session_session_invalidations_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// a second set on the same registry would collide
	require.Panics(t, func() { metrics.New(reg) })
}

func TestNew_UnregisteredStillCounts(t *testing.T) {
	m := metrics.New(nil)
	m.RefreshRoundTrips.Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshRoundTrips))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegister_ExposesCounterMetricsOnDefault swaps the default registry so
// /metrics (promhttp.Handler) would serve every click counter series.
func TestRegister_ExposesCounterMetricsOnDefault(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})

	Register()
	Rejections.WithLabelValues("ws-connect").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"clickcounter_count",
		"clickcounter_increments_total",
		"clickcounter_rejections_total",
		"clickcounter_persist_errors_total",
		"clickcounter_subscribers",
		"clickcounter_broadcast_dropped_total",
		"clickcounter_tracked_addresses",
		"clickcounter_token_rotations_total",
		"clickcounter_degraded",
		"clickcounter_bbolt_db_size_bytes",
	} {
		assert.True(t, names[want], want)
	}
}

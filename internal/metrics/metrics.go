// Package metrics defines package-level Prometheus metric variables for the
// click counter. Call Register() once at startup to expose them on the
// default registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Count mirrors the in-memory counter value.
	Count = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clickcounter_count",
		Help: "Current in-memory counter value.",
	})

	// Increments counts increments accepted by the gate.
	Increments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clickcounter_increments_total",
		Help: "Total increments accepted by the admission gate.",
	})

	// Rejections counts gate rejections, labelled by check name.
	// Valid checks: origin, token, blocked, rate-limit, burst, anomaly.
	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clickcounter_rejections_total",
		Help: "Increment requests rejected by the admission gate, by check.",
	}, []string{"check"})

	// PersistErrors counts failed durable writes of the counter document.
	PersistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clickcounter_persist_errors_total",
		Help: "Durable counter writes that failed.",
	})

	// Subscribers is the number of open observer connections.
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clickcounter_subscribers",
		Help: "Open observer connections.",
	})

	// BroadcastDropped counts messages not delivered because a subscriber's
	// send buffer was full.
	BroadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clickcounter_broadcast_dropped_total",
		Help: "Broadcast messages dropped for slow subscribers.",
	})

	// TrackedAddresses is the number of address records held in memory.
	TrackedAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clickcounter_tracked_addresses",
		Help: "Source addresses currently tracked by the rate heuristics.",
	})

	// TokenRotations counts access token rotations.
	TokenRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clickcounter_token_rotations_total",
		Help: "Access token rotations.",
	})

	// Degraded is 1 while the counter runs without durable storage.
	Degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clickcounter_degraded",
		Help: "1 while the counter is in-memory only (durable store unreachable at startup).",
	})

	// BboltDBSizeBytes is the on-disk size of the bbolt database file.
	BboltDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clickcounter_bbolt_db_size_bytes",
		Help: "Size of the bbolt database file in bytes.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		Count,
		Increments,
		Rejections,
		PersistErrors,
		Subscribers,
		BroadcastDropped,
		TrackedAddresses,
		TokenRotations,
		Degraded,
		BboltDBSizeBytes,
	)
}

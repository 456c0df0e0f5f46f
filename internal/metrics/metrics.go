package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_unit_reservations_total",
			Help: "Ticket unit reservation attempts by result",
		},
		[]string{"operation", "result"},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transaction_transitions_total",
			Help: "Transaction state transitions",
		},
		[]string{"from", "to"},
	)

	sweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_auto_release_items_total",
			Help: "Transactions handled by the auto-release sweep by outcome",
		},
		[]string{"outcome"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_auto_release_sweep_duration_seconds",
			Help:    "Duration of auto-release sweep passes",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	listingActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_listing_activations_total",
			Help: "Pending listings activated after approval",
		},
	)
)

// TrackUnitOperation counts reserve/restore/mark_sold calls.
func TrackUnitOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	reservations.WithLabelValues(operation, result).Inc()
}

func TrackTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func TrackSweep(released, skipped, failed int, duration time.Duration) {
	sweepItems.WithLabelValues("released").Add(float64(released))
	sweepItems.WithLabelValues("skipped").Add(float64(skipped))
	sweepItems.WithLabelValues("failed").Add(float64(failed))
	sweepDuration.Observe(duration.Seconds())
}

func TrackActivations(n int) {
	listingActivations.Add(float64(n))
}

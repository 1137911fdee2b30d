// Package metrics exposes the engine's Prometheus collectors. Collectors are
// registered at package load and served by the web server's /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SnapshotsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_snapshots_recorded_total",
			Help: "Valuation snapshots appended, per destination",
		},
		[]string{"destination"},
	)

	SnapshotsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_snapshots_skipped_total",
			Help: "Snapshot attempts skipped, per reason (unregistered, too_soon)",
		},
		[]string{"reason"},
	)

	ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrm_validation_failures_total",
			Help: "Move validations rejected, per failure reason",
		},
		[]string{"reason"},
	)

	MovesExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_moves_executed_total",
			Help: "Fund moves successfully dispatched",
		},
	)

	PaymentsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrm_payments_executed_total",
			Help: "Recurring payments successfully dispatched",
		},
	)

	DestinationAPR = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vrm_destination_apr",
			Help: "Last computed annualized return per destination, fixed-point units",
		},
		[]string{"destination", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		SnapshotsRecorded,
		SnapshotsSkipped,
		ValidationFailures,
		MovesExecuted,
		PaymentsExecuted,
		DestinationAPR,
	)
}

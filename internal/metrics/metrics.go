package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanalert_rows_evaluated_total",
			Help: "Rows run through the alert engine",
		},
		[]string{"algorithm"},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanalert_rows_skipped_total",
			Help: "Rows skipped before evaluation",
		},
		[]string{"algorithm", "reason"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanalert_alerts_emitted_total",
			Help: "Combined alert messages produced",
		},
		[]string{"algorithm", "origin"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanalert_alerts_suppressed_total",
			Help: "Raw alert events dropped because their key already fired",
		},
		[]string{"algorithm"},
	)

	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanalert_alerts_delivered_total",
			Help: "Alert deliveries by outcome",
		},
		[]string{"notifier", "outcome"},
	)

	SnapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "scanalert_snapshot_duration_seconds",
			Help: "Time to evaluate one data source snapshot",
		},
		[]string{"source"},
	)
)

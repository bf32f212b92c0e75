package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileStuckPayouts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint",
		Subsystem: "reconciliation",
		Name:      "stuck_payouts",
		Help:      "Number of payouts stuck in processing found in last reconciliation run.",
	})

	reconcileUnderfunded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint",
		Subsystem: "reconciliation",
		Name:      "treasury_underfunded",
		Help:      "1 when the treasury balance cannot cover outstanding payouts.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skillmint",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skillmint",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileStuckPayouts,
		reconcileUnderfunded,
		reconcileDuration,
		reconcileErrors,
	)
}

// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "skillmint",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PayoutsTotal counts payout records reaching each status.
	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "payouts_total",
			Help:      "Total payout transitions by resulting status.",
		},
		[]string{"status"},
	)

	// PayoutSubmitRetries counts broadcast retries by cause.
	PayoutSubmitRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "payout_submit_retries_total",
			Help:      "Total payout broadcast retries by cause.",
		},
		[]string{"cause"},
	)

	// ConfirmationDuration observes time from broadcast to mined receipt.
	ConfirmationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "skillmint",
		Name:      "payout_confirmation_duration_seconds",
		Help:      "Time from broadcast to confirmed receipt in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120},
	})

	// NonceResets counts nonce cache invalidations by reason.
	NonceResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "nonce_resets_total",
			Help:      "Total treasury nonce cache invalidations by reason.",
		},
		[]string{"reason"},
	)

	// BreakerTrips counts circuit breaker trips by trigger.
	BreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "breaker_trips_total",
			Help:      "Total circuit breaker trips by trigger.",
		},
		[]string{"trigger"},
	)

	// DailyCapRejections counts payouts rejected by the daily limit guard.
	DailyCapRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "skillmint",
		Name:      "daily_cap_rejections_total",
		Help:      "Total payout reservations rejected by the per-recipient daily cap.",
	})

	// FraudFindings counts fraud engine findings by check and severity.
	FraudFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "fraud_findings_total",
			Help:      "Total fraud signal findings by check and severity.",
		},
		[]string{"check", "severity"},
	)

	// ClaimRejections counts claim requests rejected by the replay/rate guard.
	ClaimRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skillmint",
			Name:      "claim_rejections_total",
			Help:      "Total claim requests rejected before settlement, by reason.",
		},
		[]string{"reason"},
	)

	// TreasuryBalance tracks the treasury's SKILL balance in whole tokens.
	TreasuryBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint",
		Name:      "treasury_balance_tokens",
		Help:      "Treasury SKILL balance in whole tokens (approximate).",
	})

	// ActiveWebSocketClients tracks connected ops-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skillmint",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "skillmint", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PayoutsTotal,
		PayoutSubmitRetries,
		ConfirmationDuration,
		NonceResets,
		BreakerTrips,
		DailyCapRejections,
		FraudFindings,
		ClaimRejections,
		TreasuryBalance,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

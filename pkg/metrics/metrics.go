// Package metrics provides Prometheus metrics for centrepoint-sync.
//
// Metrics are registered on the default registry via promauto; serve them
// with Handler when observability.enable_metrics is on.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsEmitted counts records handed to the loader, labeled by run mode.
	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centrepoint_sync_records_emitted_total",
		Help: "Records emitted to the loader",
	}, []string{"mode"})

	// RecordsSkipped counts records rejected by the incremental cursor filter.
	RecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "centrepoint_sync_records_skipped_total",
		Help: "Records below the starting cursor, skipped by the incremental filter",
	})

	// PagesFetched counts API pages retrieved.
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "centrepoint_sync_pages_fetched_total",
		Help: "Daily-statistics pages fetched from the CentrePoint API",
	})

	// TokenRequests counts token endpoint calls.
	TokenRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "centrepoint_sync_token_requests_total",
		Help: "OAuth2 client-credentials token requests",
	})

	// RunsCompleted counts finished runs, labeled by outcome.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centrepoint_sync_runs_total",
		Help: "Sync runs by outcome (completed, failed)",
	}, []string{"outcome"})

	// RunDuration observes end-to-end run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "centrepoint_sync_run_duration_seconds",
		Help:    "End-to-end sync run duration",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics registers the Prometheus collectors shared by the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MutationsTotal counts project mutations by name and result.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowguard_project_mutations_total",
		Help: "Project mutations by mutation name and result",
	}, []string{"mutation", "result"})

	// MutationDuration tracks store latency per mutation.
	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowguard_project_mutation_duration_seconds",
		Help:    "Project mutation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"mutation"})

	// Subscribers is the number of open live project feeds.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowguard_project_subscribers",
		Help: "Open live project subscriptions",
	})

	// SnapshotsPushed counts full-document pushes, including coalesced replacements.
	SnapshotsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowguard_project_snapshots_total",
		Help: "Project snapshots offered to subscribers by outcome",
	}, []string{"outcome"})

	// UpstreamRequests counts calls to the risk-analysis service by endpoint and classification.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowguard_upstream_requests_total",
		Help: "Risk API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowguard_upstream_request_duration_seconds",
		Help:    "Risk API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
	}, []string{"endpoint"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowguard_http_requests_total",
		Help: "HTTP requests by method and status",
	}, []string{"method", "status"})
)

// ObserveMutation records one store mutation.
func ObserveMutation(name string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MutationsTotal.WithLabelValues(name, result).Inc()
	MutationDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

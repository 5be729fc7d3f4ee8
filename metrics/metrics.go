// Package metrics exposes the Prometheus collectors for backend traffic and
// session outcomes. Collectors are registered once via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmend_backend_requests_total",
		Help: "Total generation requests issued to model backends",
	}, []string{"backend", "status"})

	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptmend_backend_request_duration_seconds",
		Help:    "Model backend request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend"})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmend_sessions_total",
		Help: "Optimization sessions by terminal outcome",
	}, []string{"outcome"})

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptmend_mutations_total",
		Help: "Candidate mutations produced, by strategy",
	}, []string{"strategy"})
)

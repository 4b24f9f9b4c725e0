// Package observability holds the Prometheus collectors of the proctor.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce      sync.Once
	aiRequestsTotal   *prometheus.CounterVec
	aiLatencySeconds  *prometheus.HistogramVec
	fallbacksTotal    prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
	reportsTotal      *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the collectors once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		aiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surgieval",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "AI generation calls by kind and outcome.",
		}, []string{"kind", "outcome"})

		aiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "surgieval",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "Latency of AI generation calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		}, []string{"kind"})

		fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surgieval",
			Subsystem: "session",
			Name:      "feedback_fallbacks_total",
			Help:      "Stations finished with placeholder feedback.",
		})

		transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surgieval",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Stage transitions by target stage.",
		}, []string{"stage"})

		reportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surgieval",
			Subsystem: "report",
			Name:      "rendered_total",
			Help:      "Reports rendered by outcome.",
		}, []string{"outcome"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surgieval",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "status"})

		prometheus.MustRegister(aiRequestsTotal, aiLatencySeconds, fallbacksTotal,
			transitionsTotal, reportsTotal, httpRequestsTotal)
	})
}

// AIRequests exposes the counter of AI calls.
func AIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return aiRequestsTotal
}

// AILatency exposes the AI latency histogram.
func AILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return aiLatencySeconds
}

// Fallbacks exposes the counter of fallback feedback.
func Fallbacks() prometheus.Counter {
	RegisterMetrics()
	return fallbacksTotal
}

// Transitions exposes the stage transition counter.
func Transitions() *prometheus.CounterVec {
	RegisterMetrics()
	return transitionsTotal
}

// Reports exposes the report counter.
func Reports() *prometheus.CounterVec {
	RegisterMetrics()
	return reportsTotal
}

// HTTPRequests exposes the HTTP request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

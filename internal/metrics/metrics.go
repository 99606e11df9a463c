// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "life_insurance_api"

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// Gate metrics
	AuthRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejects_total",
			Help:      "Total number of requests rejected for a missing or invalid API key",
		},
	)

	RateLimitRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejects_total",
			Help:      "Total number of requests rejected due to rate limiting",
		},
	)

	PanicRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_recoveries_total",
			Help:      "Total number of panics recovered in HTTP handlers",
		},
	)

	// Backend metrics
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total number of failed backend calls by operation",
		},
		[]string{"operation"},
	)

	AuditInsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_insert_failures_total",
			Help:      "Total number of user input audit rows that could not be stored",
		},
	)
)

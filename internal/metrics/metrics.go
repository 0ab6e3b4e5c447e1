// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_http_request_duration_seconds",
		Help:    "The request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// SigninAttemptsTotal counts sign-in attempts by method (password, google,
	// facebook) and outcome.
	SigninAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_signin_attempts_total",
		Help: "The total number of sign-in attempts",
	}, []string{"method", "result"})

	// SessionOperationsTotal counts session store operations.
	SessionOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_session_operations_total",
		Help: "The total number of session store operations",
	}, []string{"operation", "status"})

	// EmailTasksTotal counts email tasks by type and result
	// (enqueued, dropped, sent, failed).
	EmailTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_email_tasks_total",
		Help: "The total number of email tasks",
	}, []string{"type", "result"})

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "The total number of requests rejected by the rate limiter",
	})
)

// Status returns "ok" or "error" for use as a status label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

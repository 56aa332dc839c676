package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts handled requests by route pattern and status code.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsync_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// requestDuration observes handler latency by route pattern.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridsync_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// mutationsTotal counts applied dataset mutations by history action, plus import, drop and reprioritize.
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsync_mutations_total",
			Help: "Total number of applied dataset mutations by action",
		},
		[]string{"action"},
	)

	// fetchesTotal counts view fetches by kind (filter, group, export).
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsync_fetches_total",
			Help: "Total number of view fetches by kind",
		},
		[]string{"kind"},
	)

	// rateLimitedTotal counts requests rejected by the limiter.
	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridsync_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

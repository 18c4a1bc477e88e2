// Package metrics exposes Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for Mutations.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Mutation metrics.
var (
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaloga_mutations_total",
			Help: "Item mutations by operation and outcome.",
		},
		[]string{"op", "result"},
	)

	ImageReleaseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zaloga_image_release_failures_total",
			Help: "Owned image references that could not be deleted from the blob store.",
		},
	)
)

// HTTP and subscription metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zaloga_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zaloga_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zaloga_subscribers",
			Help: "Connected live-subscription clients.",
		},
	)

	Revision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zaloga_items_revision",
			Help: "Current revision of the items namespace.",
		},
	)
)

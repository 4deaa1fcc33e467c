// Package observability holds the Prometheus collectors for the dispatch API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "claims_total", Help: "Job claim attempts by result"},
		[]string{"result"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time to rank nearby jobs for a driver",
		Buckets:   prometheus.DefBuckets,
	})
	SurgeMultiplier  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "surge_multiplier", Help: "Last computed surge multiplier"})
	PendingJobs      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_jobs", Help: "Jobs waiting for a driver"})
	AvailableDrivers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "available_drivers", Help: "Drivers with status available"})

	LocationFixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_fixes_total", Help: "Driver location fixes by outcome"},
		[]string{"result"},
	)
	FeedEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "feed_events_dropped_total", Help: "Change feed events not delivered to a subscriber"},
		[]string{"type", "reason"},
	)
	PricesQuotedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "prices_quoted_total", Help: "Price calculations by kind"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

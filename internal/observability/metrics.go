package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_created_total", Help: "Ride requests admitted into the dispatch lifecycle"})
	RequestsInvalid = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_invalid_total", Help: "Ride requests rejected at validation"})

	AcceptsWon   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_won_total", Help: "Accepts that won a request"})
	AcceptsLost  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_lost_total", Help: "Accepts that arrived after the request was taken"})
	AcceptsStale = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_stale_total", Help: "Accepts rejected for a failed capacity re-check"})

	RequestsExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_expired_total", Help: "Requests that reached the expired state"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_cancelled_total", Help: "Requests cancelled by the passenger"})
	PendingDrained    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "pending_drained_total", Help: "Requests whose notified set emptied before timeout"})

	ActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "active_requests", Help: "Requests currently in a non-terminal state"})

	LocationReports = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_reports_total", Help: "Driver location reports ingested"})

	SchedulesMaterialized = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "schedules_materialized_total", Help: "Concrete rides created from recurring schedules"})

	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Time from request creation to driver notification"})

	SurgeMultiplier = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "surge_multiplier",
		Help:      "Distribution of computed surge multipliers",
		Buckets:   []float64{1.0, 1.2, 1.5, 2.0, 2.5, 3.0},
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

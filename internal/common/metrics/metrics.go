// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_requests_total",
			Help: "Total number of match requests by outcome",
		},
		[]string{"outcome"},
	)

	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_guard_rejections_total",
			Help: "Requests stopped by the request guard",
		},
		[]string{"reason"},
	)

	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "match_ranking_duration_seconds",
			Help:    "Duration of ranking calls in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 25, 30},
		},
		[]string{"status"},
	)

	CandidatePoolSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "match_candidate_pool_size",
			Help:    "Number of candidates fetched per match request",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	StatsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_stats_cache_lookups_total",
			Help: "Stats snapshot cache lookups by result",
		},
		[]string{"result"},
	)
)

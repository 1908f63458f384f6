// Package metrics provides Prometheus metrics for the resolution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesStaged tracks extraction outcomes per family
	CandidatesStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "extraction",
			Name:      "candidates_total",
			Help:      "Extracted candidates by outcome (staged, updated, rejected, duplicate)",
		},
		[]string{"family", "outcome"},
	)

	// CandidatesResolved tracks matching outcomes per family
	CandidatesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "candidates_resolved_total",
			Help:      "Candidates resolved by resulting status",
		},
		[]string{"family", "status"},
	)

	// MatchFailures tracks candidates that could not be resolved because of store errors
	MatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "failures_total",
			Help:      "Candidates that failed to resolve",
		},
		[]string{"family"},
	)

	// OracleCalls tracks arbitration attempts by result
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Oracle calls by result (ok, transient, permanent, cached)",
		},
		[]string{"result"},
	)

	// OracleDuration tracks oracle round-trip latency
	OracleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Duration of oracle calls in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	// OracleInFlight tracks concurrent oracle calls
	OracleInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "oracle",
			Name:      "calls_in_flight",
			Help:      "Number of oracle calls currently in flight",
		},
	)

	// AffiliationCommits tracks commit outcomes per family
	AffiliationCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "affiliation",
			Name:      "commits_total",
			Help:      "Affiliation commit outcomes (created, closed_prior, skipped, conflict, failed)",
		},
		[]string{"family", "outcome"},
	)

	// BatchDuration tracks pipeline stage duration per scope
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "scope_duration_seconds",
			Help:      "Duration of a pipeline stage for one scope",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"family", "stage"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)
)

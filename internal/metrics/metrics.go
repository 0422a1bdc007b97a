// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"errors"
	"time"

	"experiment-test-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Assignments counts new attempts by assigned group.
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_assignments_total",
		Help: "Participants assigned to each group",
	}, []string{"config_version", "group"})

	// Navigation counts navigation operations by outcome.
	Navigation = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_navigation_total",
		Help: "Navigation operations by operation and result",
	}, []string{"op", "result"})

	// RecordedEvents counts accepted session events by type.
	RecordedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiment_recorded_events_total",
		Help: "Accepted session events by type",
	}, []string{"type"})

	// AggregationDuration tracks the time spent aggregating one scope.
	AggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "experiment_aggregation_duration_seconds",
		Help:    "Result aggregation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"scope"})

	// PartialAggregations counts attempts aggregated with unknown question or option ids.
	PartialAggregations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "experiment_partial_aggregations_total",
		Help: "Attempts aggregated into a partial result",
	})

	// ActiveSessions is the number of attempt sessions held in memory.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "experiment_active_sessions",
		Help: "Attempt sessions currently open",
	})
)

// ObserveNavigation records the outcome of a navigation operation.
func ObserveNavigation(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNavigation):
		result = "rejected"
	default:
		result = "error"
	}
	Navigation.WithLabelValues(op, result).Inc()
}

// ObserveAggregation records the duration of one aggregation started at start.
func ObserveAggregation(scope string, start time.Time) {
	AggregationDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
}

// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted tracks action requests submitted by resource type
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "approval",
			Name:      "requests_submitted_total",
			Help:      "Total number of action requests submitted by resource type",
		},
		[]string{"resource_type", "action_type"},
	)

	// RequestsReviewed tracks review outcomes by resource type
	RequestsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "approval",
			Name:      "requests_reviewed_total",
			Help:      "Total number of action request reviews by outcome",
		},
		[]string{"resource_type", "outcome"},
	)

	// ApplyFailures tracks approved mutations that could not be applied
	ApplyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "approval",
			Name:      "apply_failures_total",
			Help:      "Total number of approvals rolled back because the apply step failed",
		},
		[]string{"resource_type"},
	)

	// StepsCompleted tracks support plan steps completed by step type
	StepsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "supportplan",
			Name:      "steps_completed_total",
			Help:      "Total number of support plan steps completed",
		},
		[]string{"step_type"},
	)

	// CyclesStarted tracks cycle rollovers
	CyclesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "supportplan",
			Name:      "cycles_started_total",
			Help:      "Total number of support plan cycles started",
		},
	)

	// DeliverableUploadBytes tracks uploaded deliverable sizes
	DeliverableUploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "deliverables",
			Name:      "upload_bytes",
			Help:      "Size distribution of uploaded deliverables in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// OfficesWithdrawn tracks approved office withdrawals
	OfficesWithdrawn = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "tenancy",
			Name:      "offices_withdrawn_total",
			Help:      "Total number of offices withdrawn",
		},
	)

	// HTTPRequestDuration tracks inbound request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)
)

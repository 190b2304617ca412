package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "admission_verdicts_total",
		Help:      "Total number of admission verdicts by outcome",
	}, []string{"team", "verdict"})
	metricSubmissionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "admission_submission_errors_total",
		Help:      "Total number of submissions that failed outright",
	}, []string{"team", "reason"})
	metricEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "admission_enqueue_failures_total",
		Help:      "Total number of worker-queue enqueues that failed after the ledger write",
	})
	metricMirrored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "admission_mirrored_total",
		Help:      "Total number of jobs mirrored to the shadow host",
	})
	metricMirrorDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "admission_mirror_dropped_total",
		Help:      "Total number of jobs not mirrored, by cause",
	}, []string{"cause"})
)

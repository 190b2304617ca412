package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// inflightJobs counts jobs currently running in this process, across all
// worker instances.
var inflightJobs = atomic.NewInt64(0)

var (
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "trawl",
		Name:      "worker_inflight_jobs",
		Help:      "Number of jobs currently running in this process",
	}, func() float64 { return float64(inflightJobs.Load()) })
	metricJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "worker_jobs_total",
		Help:      "Total number of jobs run, by outcome",
	}, []string{"status"})
	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trawl",
		Name:      "worker_job_duration_seconds",
		Help:      "Time spent running one job",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"status"})
	metricSpills = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "worker_spills_total",
		Help:      "Total number of results persisted to the blob store because they were too large for the queue record",
	})
	metricReleaseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "worker_release_failures_total",
		Help:      "Total number of active-entry releases that failed and were left to the entry TTL",
	}, []string{"scope"})
)

package drainer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "drainer_sweeps_total",
		Help:      "Total number of full drain sweeps",
	})
	metricDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "drainer_drained_total",
		Help:      "Total number of deferred jobs admitted by the drainer",
	}, []string{"team"})
	metricRequeued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "drainer_requeued_total",
		Help:      "Total number of popped jobs pushed back to the deferred queue",
	}, []string{"team", "reason"})
	metricDroppedExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "drainer_dropped_expired_total",
		Help:      "Total number of deferred jobs dropped because their hold deadline passed",
	}, []string{"team"})
	metricSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trawl",
		Name:      "drainer_sweep_duration_seconds",
		Help:      "Time taken by a full drain sweep",
		Buckets:   prometheus.DefBuckets,
	})
)

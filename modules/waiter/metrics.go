package waiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "waiter_waits_total",
		Help:      "Total number of synchronous waits by outcome",
	}, []string{"outcome"})
	metricPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "waiter_materialization_polls_total",
		Help:      "Total number of polls issued while a job had not yet reached the worker queue",
	})
	metricSpillReads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "waiter_spill_reads_total",
		Help:      "Total number of results fetched from the blob store instead of the queue record",
	})
	metricWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trawl",
		Name:      "waiter_wait_duration_seconds",
		Help:      "Time callers spent blocked on a job outcome",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

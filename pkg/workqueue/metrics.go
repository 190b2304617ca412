package workqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "workqueue_enqueued_total",
		Help:      "Total number of jobs appended to the worker queue",
	})
	metricDequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "workqueue_dequeued_total",
		Help:      "Total number of jobs handed to workers",
	})
	metricOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "workqueue_outcomes_total",
		Help:      "Total number of terminal job outcomes recorded",
	}, []string{"state"})
)

package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "notifier_sent_total",
		Help:      "Total number of notifications published",
	}, []string{"type"})
	metricSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "notifier_suppressed_total",
		Help:      "Total number of notifications suppressed before publishing",
	}, []string{"reason"})
	metricErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trawl",
		Name:      "notifier_errors_total",
		Help:      "Total number of notification attempts that failed",
	})
)

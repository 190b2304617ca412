package hedgedmetrics

import (
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
)

const publishDuration = 10 * time.Second

type diffCounter struct {
	previous int64
	counter  prometheus.Counter
}

func (d *diffCounter) addAbsoluteToCounter(value int64) {
	diff := float64(value - d.previous)
	if diff < 0 {
		diff = float64(value)
	}
	d.counter.Add(diff)
	d.previous = value
}

// Publish flushes the hedged-request count into the counter every 10 seconds.
func Publish(s *hedgedhttp.Stats, counter prometheus.Counter) {
	diff := &diffCounter{counter: counter}

	ticker := time.NewTicker(publishDuration)
	go func() {
		for range ticker.C {
			snap := s.Snapshot()
			hedged := int64(snap.ActualRoundTrips) - int64(snap.RequestedRoundTrips)
			if hedged < 0 {
				hedged = 0
			}
			diff.addAbsoluteToCounter(hedged)
		}
	}()
}

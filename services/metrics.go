package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Total number of realtime feed events by outcome",
		},
		[]string{"type", "status"},
	)

	feedOptimisticTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_optimistic_total",
			Help: "Total number of optimistic feed operations by outcome",
		},
		[]string{"operation", "status"},
	)

	feedOptimisticDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_optimistic_duration_seconds",
			Help:    "Duration of optimistic feed operations until confirmation or revert",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	feedSubscriptionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_subscription_state",
			Help: "1 for the current state of the realtime subscription",
		},
		[]string{"topic", "state"},
	)
)

func recordEvent(eventType, status string) {
	feedEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordFeedOperation фиксирует исход оптимистичной операции
func RecordFeedOperation(operation string, duration time.Duration, err error) {
	status := "confirmed"
	if err != nil {
		status = "reverted"
	}
	feedOptimisticTotal.WithLabelValues(operation, status).Inc()
	feedOptimisticDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func recordSubscriptionState(topic, state string) {
	for _, s := range []string{StateUnsubscribed, StateSubscribing, StateSubscribed} {
		value := 0.0
		if s == state {
			value = 1
		}
		feedSubscriptionState.WithLabelValues(topic, s).Set(value)
	}
}

// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karaoke_bus_published_total",
		Help: "Total number of events published to the in-process bus",
	}, []string{"topic"})

	busDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karaoke_bus_dropped_total",
		Help: "Total number of bus events dropped per topic and reason (backpressure)",
	}, []string{"topic", "reason"})

	busSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "karaoke_bus_subscribers",
		Help: "Current number of active bus subscriptions",
	})
)

// IncBusPublished records a published bus event for the given topic.
func IncBusPublished(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	busPublishedTotal.WithLabelValues(topic).Inc()
}

// IncBusDropped records a dropped bus event with a concrete reason.
func IncBusDropped(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	busDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// SetBusSubscribers records the current subscription count.
func SetBusSubscribers(n int) {
	busSubscribers.Set(float64(n))
}

package widget

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widget_state_transitions_total",
		Help: "Call widget state transitions",
	}, []string{"from", "to"})

	metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "widget_calls_total",
		Help: "Call attempts by outcome",
	}, []string{"outcome"})

	metricStartLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "widget_call_start_latency_ms",
		Help:    "Latency from begin call to call-start",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "widget_sdk_listeners",
		Help: "SDK event listeners currently attached",
	})

	metricMuteDivergence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "widget_mute_divergence_total",
		Help: "Mute toggles where the SDK reported a different mute state",
	})
)

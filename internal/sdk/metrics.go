package sdk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdk_loads_total",
		Help: "SDK bundle loads by result",
	}, []string{"result"})

	metricProviderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdk_provider_events_total",
		Help: "Events received from the voice provider by type",
	}, []string{"type"})

	metricDialMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sdk_dial_ms",
		Help:    "Time to open the provider websocket",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 10),
	})
)

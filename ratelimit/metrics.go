package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var throttleCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_ratelimit_throttles",
	Help: "Number of dispatches which slept waiting for quota reset",
})

var throttleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_ratelimit_throttle_duration_sec",
	Help: "Duration of quota throttle sleeps",
})

var quotaRemainingGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_ratelimit_quota_remaining",
	Help: "Most recently advertised remaining rate quota",
})

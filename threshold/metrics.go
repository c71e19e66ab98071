package threshold

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var trackEventCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_threshold_events_tracked",
	Help: "Number of events appended to sliding-window sets",
})

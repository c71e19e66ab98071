package ozone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_ozone_actions",
	Help: "Number of successful moderation API actions",
}, []string{"kind"})

var actionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_ozone_action_errors",
	Help: "Number of failed moderation API actions",
}, []string{"kind"})

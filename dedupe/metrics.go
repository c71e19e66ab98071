package dedupe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var claimDuplicateCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_dedupe_duplicate_claims",
	Help: "Number of claims which found an existing marker (action skipped)",
}, []string{"namespace"})

var claimFailOpenCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_dedupe_fail_open",
	Help: "Number of claims allowed through because the backing store errored",
}, []string{"namespace"})

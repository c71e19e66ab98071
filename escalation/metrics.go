package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var thresholdCrossedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_escalation_thresholds_crossed",
	Help: "Number of tracked-label threshold crossings",
}, []string{"accountLabel"})

var actionLabelCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_escalation_account_labels",
	Help: "Number of account labels applied by escalation",
})

var actionReportCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_escalation_account_reports",
	Help: "Number of account reports filed by escalation",
})

var actionCommentCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_escalation_account_comments",
	Help: "Number of account comments added by escalation",
})

var actionStepFailCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_escalation_step_failures",
	Help: "Number of compound action steps which failed",
}, []string{"step"})

var trackErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_escalation_track_errors",
	Help: "Number of tracked-label store errors swallowed on the hot path",
})

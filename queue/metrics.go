package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var taskDoneCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_queue_tasks_completed",
	Help: "Number of background tasks completed without error",
}, []string{"task"})

var taskErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_queue_task_errors",
	Help: "Number of background tasks that returned an error",
}, []string{"task"})

var taskDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_queue_tasks_dropped",
	Help: "Number of task submissions dropped (backlog full or queue closed)",
}, []string{"task", "reason"})

var backlogGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_queue_backlog",
	Help: "Current depth of the task backlog",
})

package labelsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var labelsReceivedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_labelsync_labels_received",
	Help: "Number of label events received from the subscription stream",
}, []string{"host"})

var eventDropCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_labelsync_events_dropped",
	Help: "Number of label events dropped before mirroring",
}, []string{"host", "reason"})

var decodeFailCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_labelsync_decode_failures",
	Help: "Number of stream messages dropped as undecodable or error frames",
}, []string{"host"})

var mirrorFailCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_labelsync_mirror_failures",
	Help: "Number of failed mirror writes from the sync stream",
}, []string{"host", "op"})

var reconnectCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_labelsync_connects",
	Help: "Number of successful subscription socket opens",
}, []string{"host"})

var cursorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "automod_labelsync_cursor",
	Help: "Last sequence number seen on the subscription stream",
}, []string{"host"})

var connStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "automod_labelsync_connection_state",
	Help: "Connection state (0 stopped, 1 connecting, 2 connected, 3 disconnected)",
}, []string{"host"})

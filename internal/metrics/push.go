// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "karaoke_push_sessions",
		Help: "Connected push sessions by channel",
	}, []string{"channel"})

	pushFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karaoke_push_frames_total",
		Help: "Frames sent to push clients by channel and type",
	}, []string{"channel", "type"})

	pushResyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "karaoke_push_resync_total",
		Help: "Resync directives sent after subscriber overflow",
	}, []string{"channel"})
)

// PushSessionOpened records a new push session on a channel.
func PushSessionOpened(channel string) {
	pushSessions.WithLabelValues(channel).Inc()
}

// PushSessionClosed records a closed push session on a channel.
func PushSessionClosed(channel string) {
	pushSessions.WithLabelValues(channel).Dec()
}

// IncPushFrame records one frame sent to a client.
func IncPushFrame(channel, frameType string) {
	pushFramesTotal.WithLabelValues(channel, frameType).Inc()
}

// IncPushResync records one resync directive.
func IncPushResync(channel string) {
	pushResyncTotal.WithLabelValues(channel).Inc()
}

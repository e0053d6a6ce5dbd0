// Package metrics declares the process-wide Prometheus collectors. They are
// registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MessagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_messages_classified",
	Help: "Number of guild messages classified, by verdict",
}, []string{"verdict"})

var ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_moderation_actions",
	Help: "Number of platform actions attempted, by action and outcome",
}, []string{"action", "outcome"})

var PendingUnmutes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_pending_unmutes",
	Help: "Number of scheduled mute reversals not yet fired",
})

var CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_commands_handled",
	Help: "Number of operator commands handled, by command and outcome",
}, []string{"command", "outcome"})

var MessageHandlePanics = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_message_handle_panics",
	Help: "Number of recovered panics in the message path",
})

// internal/realtime/metrics.go

package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_frames_total",
			Help: "Push frames published by transport and kind",
		},
		[]string{"transport", "kind"},
	)

	subscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_push_subscriptions_active",
			Help: "Open push subscriptions in this process",
		},
	)

	gatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_gateway_connections",
			Help: "Websocket connections held by the gateway",
		},
	)

	gatewayRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gateway_rejected_frames_total",
			Help: "Inbound gateway frames rejected by reason",
		},
		[]string{"reason"},
	)

	changeFeedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_changefeed_events_total",
			Help: "Change events published after repository writes",
		},
		[]string{"kind", "result"},
	)
)

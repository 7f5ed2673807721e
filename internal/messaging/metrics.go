package messaging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of send attempts by result",
		},
		[]string{"result"},
	)

	reconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconciliations_total",
			Help: "Provisional messages replaced by their confirmed record",
		},
		[]string{"path"},
	)

	ingestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ingest_events_total",
			Help: "Inbound realtime and poll records by outcome",
		},
		[]string{"source", "result"},
	)

	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_polls_total",
			Help: "Fallback polls by result",
		},
		[]string{"result"},
	)

	receiptBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_receipt_batches_total",
			Help: "Batched read/delivered updates",
		},
		[]string{"kind", "result"},
	)

	typingBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_broadcasts_total",
			Help: "Typing signals broadcast by value",
		},
		[]string{"typing"},
	)

	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connection_state",
			Help: "0 connecting, 1 connected, 2 disconnected",
		},
		[]string{"conversation", "user"},
	)

	unreadGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_unread_messages",
			Help: "Unread inbound messages per open conversation",
		},
		[]string{"conversation", "user"},
	)

	sendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_send_latency_seconds",
			Help:    "Time from provisional insert to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func recordSend(result string, started time.Time) {
	messagesSentTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		sendLatency.Observe(time.Since(started).Seconds())
	}
}

// forgetConversation drops the gauge series of a closed conversation
func forgetConversation(key, local string) {
	connectionState.DeleteLabelValues(key, local)
	unreadGauge.DeleteLabelValues(key, local)
}

func recordIngest(source string, result reconcileResult) {
	ingestEventsTotal.WithLabelValues(source, result.String()).Inc()
}

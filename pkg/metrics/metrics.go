// Package metrics exposes prometheus collectors shared by channels and the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes recorded per inbound delivery.
const (
	OutcomeIgnored      = "ignored"
	OutcomeEcho         = "echo"
	OutcomeDuplicate    = "duplicate"
	OutcomeMetadataOnly = "metadata_only"
	OutcomeDelivered    = "delivered"
	OutcomeError        = "error"
)

// Send results recorded per outbound attempt.
const (
	SendOK           = "ok"
	SendFailed       = "failed"
	SendTimeout      = "timeout"
	SendNotConnected = "not_connected"
)

// Relay results recorded per forwarded inbound message.
const (
	RelayForwarded = "forwarded"
	RelayFailed    = "failed"
	RelayDisabled  = "disabled"
)

var (
	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalclaw",
		Name:      "webhook_events_total",
		Help:      "Inbound channel events by pipeline outcome.",
	}, []string{"channel", "outcome"})

	sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalclaw",
		Name:      "sends_total",
		Help:      "Outbound sends by result.",
	}, []string{"channel", "result"})

	connected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalclaw",
		Name:      "channel_connected",
		Help:      "1 while the channel is connected.",
	}, []string{"channel"})

	relayForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalclaw",
		Name:      "relay_forwards_total",
		Help:      "Inbound messages handed to the assistant relay by result.",
	}, []string{"result"})
)

func ObserveWebhook(channel, outcome string) {
	webhookEvents.WithLabelValues(channel, outcome).Inc()
}

func ObserveSend(channel, result string) {
	sends.WithLabelValues(channel, result).Inc()
}

func SetConnected(channel string, up bool) {
	value := 0.0
	if up {
		value = 1
	}
	connected.WithLabelValues(channel).Set(value)
}

func ObserveRelay(result string) {
	relayForwards.WithLabelValues(result).Inc()
}

// WebhookEvents returns the counter for one channel/outcome pair.
func WebhookEvents(channel, outcome string) prometheus.Counter {
	return webhookEvents.WithLabelValues(channel, outcome)
}

// Sends returns the counter for one channel/result pair.
func Sends(channel, result string) prometheus.Counter {
	return sends.WithLabelValues(channel, result)
}

// RelayForwards returns the counter for one relay result.
func RelayForwards(result string) prometheus.Counter {
	return relayForwards.WithLabelValues(result)
}

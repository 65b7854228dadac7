package signal

import (
	"fmt"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/metrics"
)

const messagePreviewLimit = 50

// processWebhook runs one parsed webhook body through the inbound pipeline
// and returns the outcome recorded in metrics.
//
// It never panics: failures in decoding or in downstream callbacks are logged
// so the webhook caller still gets a success response.
func (a *Adapter) processWebhook(body []byte) (outcome string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.log.Error("Error handling Signal webhook", "error", fmt.Sprint(recovered))
			outcome = metrics.OutcomeError
		}
		metrics.ObserveWebhook(channelName, outcome)
	}()

	event, ok, err := normalize(body, a.now)
	if err != nil {
		a.log.Error("Error handling Signal webhook", "error", err)
		return metrics.OutcomeError
	}
	if !ok {
		return metrics.OutcomeIgnored
	}

	if suppressEcho(event, a.cfg.PhoneNumber) {
		a.log.Debug("Skipping echo of own message", "source", event.source, "sync", event.selfOriginated)
		return metrics.OutcomeEcho
	}

	if a.dedup.Seen(event.deliveryKey()) {
		a.log.Debug("Skipping duplicate Signal message", "key", event.deliveryKey())
		return metrics.OutcomeDuplicate
	}

	return a.route(event)
}

// route emits chat metadata for every surviving event and delivers the full
// message only when the chat is registered at this moment.
func (a *Adapter) route(event inboundEvent) string {
	chatJID := event.chatJID()
	timestamp := event.isoTimestamp()

	a.log.Info("Received Signal message",
		"chat_jid", chatJID,
		"source", event.source,
		"sync", event.selfOriginated,
		"content", channel.Preview(event.text, messagePreviewLimit),
	)

	a.callbacks.OnChatMetadata(chatJID, timestamp)

	if _, registered := a.callbacks.Registry()[chatJID]; !registered {
		return metrics.OutcomeMetadataOnly
	}

	a.callbacks.OnMessage(chatJID, channel.InboundMessage{
		ID:         event.deliveryKey(),
		ChatJID:    chatJID,
		Sender:     event.source,
		SenderName: event.senderName(),
		Content:    event.text,
		Timestamp:  timestamp,
		IsFromMe:   event.selfOriginated,
	})

	return metrics.OutcomeDelivered
}

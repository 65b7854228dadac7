package bus

import "signalclaw/pkg/channel"

// InboundMessage is one registered-chat message on its way to the assistant.
type InboundMessage struct {
	Channel string `json:"channel"`
	channel.InboundMessage
}

// OutboundMessage is one assistant reply on its way to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel,omitempty"`
	ChatJID   string            `json:"chat_jid"`
	Content   string            `json:"content"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

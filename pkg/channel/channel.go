package channel

import (
	"context"
	"errors"
	"time"
)

// TimestampLayout is the ISO-8601 UTC form used for message and chat timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrNotConnected is returned when a send is attempted before Connect succeeds.
var ErrNotConnected = errors.New("channel not connected")

// InboundMessage is the normalized message record handed to the assistant.
type InboundMessage struct {
	ID         string `json:"id"`
	ChatJID    string `json:"chat_jid"`
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	IsFromMe   bool   `json:"is_from_me"`
}

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RegisteredGroup is the assistant-side configuration of one registered chat.
type RegisteredGroup struct {
	Name            string `json:"name"`
	Folder          string `json:"folder"`
	Trigger         string `json:"trigger"`
	AddedAt         string `json:"added_at"`
	RequiresTrigger *bool  `json:"requiresTrigger,omitempty"`
}

// OnInboundMessage receives messages for registered chats.
type OnInboundMessage func(chatJID string, msg InboundMessage)

// OnChatMetadata receives one notification per observed chat activity.
type OnChatMetadata func(chatJID string, timestamp string)

// Registry returns the current snapshot of registered chats keyed by chat JID.
//
// Adapters call it once per event and never mutate the returned map.
type Registry func() map[string]RegisteredGroup

// Channel bridges one external messaging transport into the gateway.
type Channel interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, jid string, text string) error
	IsConnected() bool
	OwnsJID(jid string) bool
	SetTyping(ctx context.Context, jid string, typing bool) error
	PrefixAssistantName() bool
}

// Callbacks bundles the hooks every adapter drives for inbound traffic.
type Callbacks struct {
	OnMessage      OnInboundMessage
	OnChatMetadata OnChatMetadata
	Registry       Registry
}

// Validate reports missing callbacks.
func (c Callbacks) Validate() error {
	if c.OnMessage == nil {
		return errors.New("message callback is required")
	}
	if c.OnChatMetadata == nil {
		return errors.New("chat metadata callback is required")
	}
	if c.Registry == nil {
		return errors.New("registry accessor is required")
	}

	return nil
}

// FindOwner returns the first channel that owns jid.
func FindOwner(channels []Channel, jid string) (Channel, bool) {
	for _, ch := range channels {
		if ch.OwnsJID(jid) {
			return ch, true
		}
	}

	return nil, false
}

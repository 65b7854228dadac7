package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalclaw/pkg/bus"
)

const (
	TypeInbound  = "signalclaw.message.inbound.v1"
	TypeOutbound = "signalclaw.message.outbound.v1"

	producer = "signalclaw-gateway"
)

// Meta describes one relayed event.
type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. signalclaw.message.inbound.v1
	Type string `json:"type"`
}

// Envelope wraps a relayed payload with its metadata.
type Envelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

func newInboundEnvelope(msg bus.InboundMessage, now time.Time) Envelope[bus.InboundMessage] {
	meta := Meta{
		ID:       uuid.NewString(),
		Producer: ptr(producer),
		Time:     now.UTC(),
		Type:     TypeInbound,
	}
	if msg.ID != "" {
		meta.CorrelationID = ptr(msg.ID)
	}

	return Envelope[bus.InboundMessage]{Meta: meta, Data: msg}
}

// decodeOutbound parses a reply envelope from the assistant.
func decodeOutbound(body []byte) (Envelope[bus.OutboundMessage], error) {
	var envelope Envelope[bus.OutboundMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return envelope, fmt.Errorf("decode reply envelope: %w", err)
	}

	if envelope.Meta.Type != "" && envelope.Meta.Type != TypeOutbound {
		return envelope, fmt.Errorf("unexpected reply type %q", envelope.Meta.Type)
	}
	if strings.TrimSpace(envelope.Data.ChatJID) == "" {
		return envelope, errors.New("reply chat_jid is required")
	}
	if strings.TrimSpace(envelope.Data.Content) == "" {
		return envelope, errors.New("reply content is required")
	}
	if envelope.Data.ReplyToID == "" && envelope.Meta.CorrelationID != nil {
		envelope.Data.ReplyToID = *envelope.Meta.CorrelationID
	}

	return envelope, nil
}

func ptr[T any](v T) *T {
	return &v
}

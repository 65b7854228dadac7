package signal

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"signalclaw/pkg/channel"
)

const (
	// GroupJIDPrefix namespaces Signal group chats in the shared JID space.
	GroupJIDPrefix = "signal-group:"
)

// jsonObject is one decoded JSON object. Lookups match keys exactly and a
// field of the wrong type reads as absent, so unexpected shapes in fields
// the pipeline ignores never reject a delivery.
type jsonObject map[string]json.RawMessage

func asObject(raw json.RawMessage) jsonObject {
	var obj jsonObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}

	return obj
}

func (o jsonObject) object(key string) jsonObject {
	raw, ok := o[key]
	if !ok {
		return nil
	}

	return asObject(raw)
}

func (o jsonObject) str(key string) string {
	var value string
	if err := json.Unmarshal(o[key], &value); err != nil {
		return ""
	}

	return value
}

// millis reads a positive epoch-millisecond number, including exponent forms.
func (o jsonObject) millis(key string) int64 {
	var value float64
	if err := json.Unmarshal(o[key], &value); err != nil || value <= 0 {
		return 0
	}

	return int64(value)
}

// inboundEvent is the canonical form of one webhook delivery. Nothing past
// normalize sees the raw payload shape.
type inboundEvent struct {
	source         string
	sourceName     string
	text           string
	groupID        string
	timestamp      int64
	selfOriginated bool
}

// normalize decodes a webhook body into an inboundEvent.
//
// Both delivery shapes are accepted: json-rpc mode wraps the envelope in
// params, direct mode sends it at the top level. The bool result is false
// when the delivery carries nothing to route. An error means the body is
// not JSON at all.
func normalize(body []byte, now func() time.Time) (inboundEvent, bool, error) {
	if !json.Valid(body) {
		return inboundEvent{}, false, errors.New("decode webhook payload: invalid JSON")
	}

	payload := asObject(body)
	envelope := payload.object("params").object("envelope")
	if envelope == nil {
		envelope = payload.object("envelope")
	}
	if envelope == nil {
		return inboundEvent{}, false, nil
	}

	data := envelope.object("dataMessage")
	selfOriginated := false
	if data == nil {
		data = envelope.object("syncMessage").object("sentMessage")
		selfOriginated = data != nil
	}
	if data == nil {
		return inboundEvent{}, false, nil
	}

	text := data.str("message")
	if text == "" {
		return inboundEvent{}, false, nil
	}

	source := envelope.str("sourceNumber")
	if source == "" {
		source = envelope.str("source")
	}
	if source == "" {
		return inboundEvent{}, false, nil
	}

	timestamp := data.millis("timestamp")
	if timestamp == 0 {
		timestamp = envelope.millis("timestamp")
	}
	if timestamp == 0 {
		timestamp = now().UnixMilli()
	}

	return inboundEvent{
		source:         source,
		sourceName:     envelope.str("sourceName"),
		text:           text,
		groupID:        data.object("groupInfo").str("groupId"),
		timestamp:      timestamp,
		selfOriginated: selfOriginated,
	}, true, nil
}

func (e inboundEvent) isGroup() bool {
	return e.groupID != ""
}

// chatJID is the group JID for group traffic and the sender for direct chats.
func (e inboundEvent) chatJID() string {
	if e.isGroup() {
		return GroupJID(e.groupID)
	}

	return e.source
}

// deliveryKey identifies one delivery for dedup within a process lifetime.
func (e inboundEvent) deliveryKey() string {
	return strconv.FormatInt(e.timestamp, 10) + ":" + e.source
}

func (e inboundEvent) senderName() string {
	if e.sourceName != "" {
		return e.sourceName
	}

	return e.source
}

func (e inboundEvent) isoTimestamp() string {
	return FormatTimestamp(e.timestamp)
}

// FormatTimestamp renders epoch milliseconds as an ISO-8601 UTC string.
func FormatTimestamp(millis int64) string {
	return channel.FormatTime(time.UnixMilli(millis))
}

// GroupJID maps a gateway group id to its chat JID.
func GroupJID(groupID string) string {
	return GroupJIDPrefix + groupID
}

// IsGroupJID reports whether jid is in Signal group form.
func IsGroupJID(jid string) bool {
	return strings.HasPrefix(jid, GroupJIDPrefix)
}

// GroupIDFromJID recovers the gateway group id from a group JID.
func GroupIDFromJID(jid string) (string, bool) {
	return strings.CutPrefix(jid, GroupJIDPrefix)
}

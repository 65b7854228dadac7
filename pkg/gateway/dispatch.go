package gateway

import (
	"context"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/channel"
	"signalclaw/pkg/metrics"
)

// runInbound forwards delivered messages to the assistant relay.
func (s *Service) runInbound(ctx context.Context) {
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		s.forward(ctx, msg)
	}
}

func (s *Service) forward(ctx context.Context, msg bus.InboundMessage) {
	if s.relay == nil {
		metrics.ObserveRelay(metrics.RelayDisabled)
		s.log.Debug("Dropping inbound message without relay", "channel", msg.Channel, "chat_jid", msg.ChatJID)
		return
	}

	if err := s.relay.Forward(ctx, msg); err != nil {
		metrics.ObserveRelay(metrics.RelayFailed)
		s.setRelayError(err)
		s.log.Error("Failed to forward inbound message", "channel", msg.Channel, "chat_jid", msg.ChatJID, "message_id", msg.ID, "error", err)
		return
	}

	metrics.ObserveRelay(metrics.RelayForwarded)
	s.setRelayError(nil)

	if owner, ok := channel.FindOwner(s.snapshotChannels(), msg.ChatJID); ok {
		if err := owner.SetTyping(ctx, msg.ChatJID, true); err != nil {
			s.log.Debug("Failed to set typing indicator", "channel", owner.Name(), "chat_jid", msg.ChatJID, "error", err)
		}
	}
}

// runOutbound delivers assistant replies through the channel owning each JID.
func (s *Service) runOutbound(ctx context.Context, channels []channel.Channel) {
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		s.deliver(ctx, channels, msg)
	}
}

func (s *Service) deliver(ctx context.Context, channels []channel.Channel, msg bus.OutboundMessage) {
	owner, ok := channel.FindOwner(channels, msg.ChatJID)
	if !ok {
		s.log.Warn("No channel owns reply target", "chat_jid", msg.ChatJID)
		s.publishSendFailed(ctx, "", msg, "no channel owns chat")
		return
	}

	if err := owner.SendMessage(ctx, msg.ChatJID, s.formatReply(owner, msg.Content)); err != nil {
		s.log.Error("Failed to send reply", "channel", owner.Name(), "chat_jid", msg.ChatJID, "error", err)
		s.publishSendFailed(ctx, owner.Name(), msg, err.Error())
		return
	}

	if err := owner.SetTyping(ctx, msg.ChatJID, false); err != nil {
		s.log.Debug("Failed to clear typing indicator", "channel", owner.Name(), "chat_jid", msg.ChatJID, "error", err)
	}

	s.bus.PublishEvent(ctx, bus.Event{
		Type:      bus.EventMessageSent,
		Channel:   owner.Name(),
		ChatJID:   msg.ChatJID,
		MessageID: msg.ReplyToID,
	})
}

func (s *Service) publishSendFailed(ctx context.Context, channelName string, msg bus.OutboundMessage, reason string) {
	s.bus.PublishEvent(ctx, bus.Event{
		Type:      bus.EventSendFailed,
		Channel:   channelName,
		ChatJID:   msg.ChatJID,
		MessageID: msg.ReplyToID,
		Error:     reason,
	})
}

package gateway

import (
	"context"
	"time"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/channel"
)

const activityEventBuffer = 256

// channelActivity is the latest traffic seen for one channel, as reported
// on the status endpoints.
type channelActivity struct {
	lastChatAt    time.Time
	lastInboundAt time.Time
	lastSentAt    time.Time
	lastSendError string
	lastError     string
}

// trackActivity folds bus events into per-channel activity until ctx ends or
// the subscription closes.
func (s *Service) trackActivity(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.recordEvent(event)
		}
	}
}

func (s *Service) recordEvent(event bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Channel == "" {
		if event.Type == bus.EventSendFailed {
			s.unroutedReplies++
		}
		return
	}

	if s.activity == nil {
		s.activity = make(map[string]*channelActivity)
	}
	activity, ok := s.activity[event.Channel]
	if !ok {
		activity = &channelActivity{}
		s.activity[event.Channel] = activity
	}

	switch event.Type {
	case bus.EventChatObserved:
		activity.lastChatAt = event.At
	case bus.EventMessageReceived:
		activity.lastInboundAt = event.At
	case bus.EventMessageSent:
		activity.lastSentAt = event.At
		activity.lastSendError = ""
	case bus.EventSendFailed:
		activity.lastSendError = event.Error
	case bus.EventChannelState:
		activity.lastError = event.Error
	}
}

// channelStateLocked reports ch with its recorded activity. s.mu must be held.
func (s *Service) channelStateLocked(ch channel.Channel) channelState {
	state := channelState{Connected: ch.IsConnected()}

	activity, ok := s.activity[ch.Name()]
	if !ok {
		return state
	}

	state.LastChatAt = formatEventTime(activity.lastChatAt)
	state.LastInboundAt = formatEventTime(activity.lastInboundAt)
	state.LastSentAt = formatEventTime(activity.lastSentAt)
	state.LastSendError = activity.lastSendError
	state.LastError = activity.lastError
	return state
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return channel.FormatTime(t)
}

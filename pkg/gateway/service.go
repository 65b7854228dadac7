package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/channel"
	"signalclaw/pkg/channel/signal"
	"signalclaw/pkg/chats"
	"signalclaw/pkg/config"
	"signalclaw/pkg/logger"
	"signalclaw/pkg/relay"
)

const (
	callbackPublishTimeout = 5 * time.Second
	disconnectTimeout      = 5 * time.Second
)

// ChatStore records observed chats and lists them for discovery.
type ChatStore interface {
	chats.ChatLister
	StoreChatMetadata(jid string, timestamp string, name string) error
}

// Relay carries inbound messages to the assistant and streams its replies.
type Relay interface {
	Forward(ctx context.Context, msg bus.InboundMessage) error
	Run(ctx context.Context, handle relay.ReplyHandler) error
}

// Dependencies are the collaborators a Service routes between.
//
// Relay may be nil, in which case delivered messages are logged and dropped.
type Dependencies struct {
	Bus      *bus.MessageBus
	Store    ChatStore
	Registry *chats.Registry
	Relay    Relay
}

// Service connects channels to the chat store and the assistant relay.
type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *bus.MessageBus
	store    ChatStore
	registry *chats.Registry
	relay    Relay

	mu              sync.RWMutex
	channels        []channel.Channel
	startedAt       time.Time
	relayLastErr    string
	activity        map[string]*channelActivity
	unroutedReplies int64
}

func NewService(cfg *config.Config, deps Dependencies, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if deps.Store == nil {
		return nil, errors.New("chat store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("chat registry is required")
	}

	return &Service{
		cfg:      cfg,
		log:      logger.Component(log, "gateway.service"),
		bus:      deps.Bus,
		store:    deps.Store,
		registry: deps.Registry,
		relay:    deps.Relay,
		activity: make(map[string]*channelActivity),
	}, nil
}

// CallbacksFor returns the inbound hooks for the channel called name.
func (s *Service) CallbacksFor(name string) channel.Callbacks {
	return channel.Callbacks{
		OnMessage: func(chatJID string, msg channel.InboundMessage) {
			s.handleMessage(name, chatJID, msg)
		},
		OnChatMetadata: func(chatJID string, timestamp string) {
			s.handleChatMetadata(name, chatJID, timestamp)
		},
		Registry: s.registry.Snapshot,
	}
}

// AddChannel registers ch for connection and outbound routing.
func (s *Service) AddChannel(ch channel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, ch)
}

func (s *Service) snapshotChannels() []channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]channel.Channel(nil), s.channels...)
}

// AvailableGroups lists Signal group chats, most recently active first.
func (s *Service) AvailableGroups(context.Context) ([]chats.AvailableGroup, error) {
	return chats.ListAvailableGroups(s.store, s.registry, signal.IsGroupJID)
}

// Run connects every channel, routes traffic until ctx is cancelled, then
// disconnects them. A channel that fails to connect aborts the run.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	channels := s.snapshotChannels()
	if len(channels) == 0 {
		return errors.New("at least one channel is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	var wg sync.WaitGroup
	events, unsubscribe := s.bus.SubscribeEvents(runCtx, activityEventBuffer)
	defer unsubscribe()
	wg.Go(func() { s.trackActivity(runCtx, events) })

	connected := make([]channel.Channel, 0, len(channels))
	for _, ch := range channels {
		if err := ch.Connect(runCtx); err != nil {
			s.disconnectAll(connected)
			cancel()
			wg.Wait()
			return fmt.Errorf("connect %s channel: %w", ch.Name(), err)
		}
		connected = append(connected, ch)
		s.publishChannelState(ch, "")
	}

	errCh := make(chan error, 2)
	wg.Go(func() { s.runStatusServer(runCtx, errCh) })
	wg.Go(func() { s.runInbound(runCtx) })
	wg.Go(func() { s.runOutbound(runCtx, connected) })
	if s.relay != nil {
		wg.Go(func() {
			if err := s.relay.Run(runCtx, s.handleReply); err != nil {
				errCh <- fmt.Errorf("run assistant relay: %w", err)
			}
		})
	} else {
		s.log.Warn("No assistant relay configured, delivered messages will be dropped")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	cancel()
	wg.Wait()
	s.disconnectAll(connected)

	return runErr
}

func (s *Service) disconnectAll(channels []channel.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()

	for _, ch := range channels {
		err := ch.Disconnect(ctx)
		if err != nil {
			s.log.Error("Failed to disconnect channel", "channel", ch.Name(), "error", err)
		}
		s.publishChannelState(ch, errorString(err))
	}
}

func (s *Service) handleChatMetadata(channelName, chatJID, timestamp string) {
	if err := s.store.StoreChatMetadata(chatJID, timestamp, ""); err != nil {
		s.log.Error("Failed to store chat metadata", "channel", channelName, "chat_jid", chatJID, "error", err)
		return
	}

	s.bus.PublishEvent(context.Background(), bus.Event{
		Type:    bus.EventChatObserved,
		Channel: channelName,
		ChatJID: chatJID,
		Payload: map[string]string{"timestamp": timestamp},
	})
}

func (s *Service) handleMessage(channelName, chatJID string, msg channel.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackPublishTimeout)
	defer cancel()

	if msg.ChatJID == "" {
		msg.ChatJID = chatJID
	}
	if !s.bus.PublishInbound(ctx, bus.InboundMessage{Channel: channelName, InboundMessage: msg}) {
		s.log.Warn("Dropped inbound message, bus unavailable", "channel", channelName, "chat_jid", chatJID, "message_id", msg.ID)
		return
	}

	s.bus.PublishEvent(ctx, bus.Event{
		Type:      bus.EventMessageReceived,
		Channel:   channelName,
		ChatJID:   chatJID,
		MessageID: msg.ID,
	})
}

func (s *Service) handleReply(ctx context.Context, msg bus.OutboundMessage) error {
	if !s.bus.PublishOutbound(ctx, msg) {
		return errors.New("outbound queue unavailable")
	}
	return nil
}

// formatReply prefixes text with the assistant name for channels where
// replies appear under the operator's own identity.
func (s *Service) formatReply(ch channel.Channel, text string) string {
	if !ch.PrefixAssistantName() {
		return text
	}

	name := strings.TrimSpace(s.cfg.Gateway.AssistantName)
	if name == "" {
		name = config.DefaultAssistantName
	}
	return name + ": " + text
}

func (s *Service) publishChannelState(ch channel.Channel, errText string) {
	state := "disconnected"
	if ch.IsConnected() {
		state = "connected"
	}

	s.bus.PublishEvent(context.Background(), bus.Event{
		Type:    bus.EventChannelState,
		Channel: ch.Name(),
		Payload: map[string]string{"state": state},
		Error:   errText,
	})
}

func (s *Service) setRelayError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayLastErr = errorString(err)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

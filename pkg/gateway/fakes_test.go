package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/chats"
	"signalclaw/pkg/config"
	"signalclaw/pkg/logger"
	"signalclaw/pkg/relay"
)

type sentMessage struct {
	jid  string
	text string
}

type fakeChannel struct {
	name       string
	jidPrefix  string
	prefix     bool
	connectErr error
	sendErr    error

	mu        sync.Mutex
	connected bool
	connects  int
	sent      []sentMessage
	typing    []bool
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeChannel) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *fakeChannel) SendMessage(_ context.Context, jid string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{jid: jid, text: text})
	return nil
}

func (c *fakeChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) OwnsJID(jid string) bool { return strings.HasPrefix(jid, c.jidPrefix) }

func (c *fakeChannel) SetTyping(_ context.Context, _ string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, typing)
	return nil
}

func (c *fakeChannel) PrefixAssistantName() bool { return c.prefix }

func (c *fakeChannel) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeChannel) typingCalls() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.typing...)
}

type fakeRelay struct {
	forwardErr error

	forwarded chan bus.InboundMessage
	replies   chan bus.OutboundMessage
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		forwarded: make(chan bus.InboundMessage, 10),
		replies:   make(chan bus.OutboundMessage, 10),
	}
}

func (r *fakeRelay) Forward(_ context.Context, msg bus.InboundMessage) error {
	if r.forwardErr != nil {
		return r.forwardErr
	}
	r.forwarded <- msg
	return nil
}

func (r *fakeRelay) Run(ctx context.Context, handle relay.ReplyHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reply := <-r.replies:
			if err := handle(ctx, reply); err != nil {
				return err
			}
		}
	}
}

type failingStore struct{}

func (failingStore) ListChats() ([]chats.ChatRecord, error) {
	return nil, errors.New("store offline")
}

func (failingStore) StoreChatMetadata(string, string, string) error {
	return errors.New("store offline")
}

type testEnv struct {
	svc      *Service
	bus      *bus.MessageBus
	store    *chats.Store
	registry *chats.Registry
}

func newTestEnv(t *testing.T, cfg *config.Config, r Relay) testEnv {
	t.Helper()

	store, err := chats.Open(filepath.Join(t.TempDir(), "chats"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := chats.NewRegistry(store)
	require.NoError(t, err)

	messageBus := bus.NewMessageBus()
	t.Cleanup(messageBus.Close)

	if cfg == nil {
		cfg = &config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", AssistantName: "Andy"}}
	}

	svc, err := NewService(cfg, Dependencies{Bus: messageBus, Store: store, Registry: registry, Relay: r}, logger.Discard())
	require.NoError(t, err)

	return testEnv{svc: svc, bus: messageBus, store: store, registry: registry}
}

// adminRequest builds a status-server request from a loopback peer.
func adminRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:40000"
	return req
}

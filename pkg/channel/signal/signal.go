// Package signal bridges signal-cli-rest-api into the gateway.
//
// Inbound traffic arrives on a webhook, is normalized into one canonical
// event, filtered for echoes and duplicates, then routed by chat JID. Direct
// chats use the sender's number as JID; groups use GroupJIDPrefix plus the
// gateway group id.
package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/config"
	"signalclaw/pkg/logger"
	"signalclaw/pkg/metrics"
)

const (
	channelName        = "signal"
	defaultSendTimeout = 10 * time.Second
)

// ErrNotConnected is returned by SendMessage before Connect succeeds.
var ErrNotConnected = fmt.Errorf("signal %w", channel.ErrNotConnected)

var directJIDPattern = regexp.MustCompile(`^\+\d+$`)

// Adapter implements channel.Channel for Signal.
type Adapter struct {
	cfg         config.SignalConfig
	callbacks   channel.Callbacks
	api         *apiClient
	dedup       *dedupCache
	log         *slog.Logger
	now         func() time.Time
	sendTimeout time.Duration

	mu        sync.Mutex
	server    *webhookServer
	connected atomic.Bool
}

// NewAdapter validates Signal configuration and constructs an adapter instance.
func NewAdapter(cfg config.SignalConfig, callbacks channel.Callbacks, log *slog.Logger) (*Adapter, error) {
	cfg.PhoneNumber = strings.TrimSpace(cfg.PhoneNumber)
	if cfg.PhoneNumber == "" {
		return nil, errors.New("channels.signal.phone_number is required")
	}
	if err := callbacks.Validate(); err != nil {
		return nil, err
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = config.DefaultSignalAPIURL
	}
	if cfg.WebhookPort < 0 {
		return nil, fmt.Errorf("channels.signal.webhook_port must not be negative, got %d", cfg.WebhookPort)
	}

	return &Adapter{
		cfg:         cfg,
		callbacks:   callbacks,
		api:         newAPIClient(cfg.APIURL),
		dedup:       newDedupCache(dedupCapacity),
		log:         logger.Component(log, "channel.signal"),
		now:         time.Now,
		sendTimeout: defaultSendTimeout,
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// PrefixAssistantName reports that replies should carry the assistant name,
// since Signal shows them as coming from the operator's own number.
func (a *Adapter) PrefixAssistantName() bool {
	return true
}

// Connect checks the REST gateway and starts the webhook server. The check
// shares the send timeout.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected.Load() {
		return nil
	}

	a.log.Info("Starting Signal channel", "api_url", a.cfg.APIURL, "webhook_port", a.cfg.WebhookPort)

	aboutCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	if err := a.api.about(aboutCtx); err != nil {
		return fmt.Errorf("failed to connect to signal-cli-rest-api at %s: %w", a.cfg.APIURL, err)
	}
	a.log.Info("Connected to signal-cli-rest-api")

	server := newWebhookServer(func(body []byte) { a.processWebhook(body) }, a.log)
	if err := server.start(a.webhookAddr()); err != nil {
		return fmt.Errorf("start signal webhook server: %w", err)
	}

	a.server = server
	a.connected.Store(true)
	metrics.SetConnected(channelName, true)
	a.log.Info("Signal channel connected")

	return nil
}

// Disconnect stops the webhook server and waits for its listener to close.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.server != nil {
		err = a.server.shutdown(ctx)
		a.server = nil
	}

	a.connected.Store(false)
	metrics.SetConnected(channelName, false)
	a.log.Info("Signal channel disconnected")

	if err != nil {
		return fmt.Errorf("stop signal webhook server: %w", err)
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// OwnsJID reports whether jid is a Signal group JID or an E.164 number.
func (a *Adapter) OwnsJID(jid string) bool {
	return IsGroupJID(jid) || directJIDPattern.MatchString(jid)
}

// SetTyping is a no-op: signal-cli-rest-api exposes no typing indicator.
func (a *Adapter) SetTyping(context.Context, string, bool) error {
	return nil
}

// SendMessage delivers text to a direct or group chat.
func (a *Adapter) SendMessage(ctx context.Context, jid string, text string) error {
	if !a.connected.Load() {
		metrics.ObserveSend(channelName, metrics.SendNotConnected)
		return ErrNotConnected
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()

	err := a.api.send(sendCtx, sendRequest{
		Message:    text,
		Number:     a.cfg.PhoneNumber,
		Recipients: []string{recipientFor(jid)},
	})
	if err != nil {
		var sendErr *SendError
		switch {
		case errors.As(err, &sendErr):
			metrics.ObserveSend(channelName, metrics.SendFailed)
			return err
		case isTimeout(sendCtx, err):
			metrics.ObserveSend(channelName, metrics.SendTimeout)
			return &SendTimeoutError{JID: jid}
		default:
			metrics.ObserveSend(channelName, metrics.SendFailed)
			return fmt.Errorf("send signal message to %s: %w", jid, err)
		}
	}

	metrics.ObserveSend(channelName, metrics.SendOK)
	a.log.Info("Signal message sent", "chat_jid", jid, "length", len(text))
	return nil
}

// WebhookAddr returns the bound webhook address while connected.
func (a *Adapter) WebhookAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ""
	}
	return a.server.addr()
}

func (a *Adapter) webhookAddr() string {
	return net.JoinHostPort(strings.TrimSpace(a.cfg.WebhookHost), strconv.Itoa(a.cfg.WebhookPort))
}

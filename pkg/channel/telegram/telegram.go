// Package telegram bridges a Telegram bot into the gateway.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"signalclaw/pkg/channel"
	"signalclaw/pkg/config"
	"signalclaw/pkg/logger"
	"signalclaw/pkg/metrics"
)

const (
	channelName         = "telegram"
	messagePreviewLimit = 240

	// JIDPrefix namespaces Telegram chats in the shared JID space.
	JIDPrefix = "tg:"
)

// ErrNotConnected is returned by SendMessage before Connect succeeds.
var ErrNotConnected = fmt.Errorf("telegram %w", channel.ErrNotConnected)

// botAPI is the subset of *telego.Bot the adapter drives.
type botAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter implements channel.Channel over Telegram long polling.
type Adapter struct {
	cfg       config.TelegramConfig
	callbacks channel.Callbacks
	allowFrom map[string]struct{}
	log       *slog.Logger
	newBot    func(token string) (botAPI, error)

	mu        sync.Mutex
	bot       botAPI
	stop      context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, callbacks channel.Callbacks, log *slog.Logger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}
	if err := callbacks.Validate(); err != nil {
		return nil, err
	}

	return &Adapter{
		cfg:       cfg,
		callbacks: callbacks,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       logger.Component(log, "channel.telegram"),
		newBot: func(token string) (botAPI, error) {
			return telego.NewBot(token)
		},
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// PrefixAssistantName is false: replies already come from the bot account.
func (a *Adapter) PrefixAssistantName() bool {
	return false
}

// OwnsJID reports whether jid is a Telegram chat JID.
func (a *Adapter) OwnsJID(jid string) bool {
	return strings.HasPrefix(jid, JIDPrefix)
}

func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

// Connect verifies the bot token and starts long polling.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected.Load() {
		return nil
	}

	bot, err := a.newBot(a.cfg.Token)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify telegram bot: %w", err)
	}

	pollCtx, stop := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		stop()
		return fmt.Errorf("start long polling: %w", err)
	}

	a.bot = bot
	a.stop = stop
	a.done = make(chan struct{})
	go a.poll(pollCtx, updates, a.done)

	a.connected.Store(true)
	metrics.SetConnected(channelName, true)
	a.log.Info("Telegram channel connected", "username", me.Username)

	return nil
}

// Disconnect stops long polling and waits for the update loop to exit.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.stop != nil {
		a.stop()
		select {
		case <-a.done:
		case <-ctx.Done():
			err = fmt.Errorf("stop telegram polling: %w", ctx.Err())
		}
		a.stop = nil
	}

	a.connected.Store(false)
	metrics.SetConnected(channelName, false)
	a.log.Info("Telegram channel disconnected")

	return err
}

// SendMessage delivers text to a Telegram chat JID.
func (a *Adapter) SendMessage(ctx context.Context, jid string, text string) error {
	bot, chatID, err := a.target(jid)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			metrics.ObserveSend(channelName, metrics.SendNotConnected)
		}
		return err
	}

	a.log.Info("Sending message", "chat_jid", jid, "content", channel.Preview(text, messagePreviewLimit))
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		metrics.ObserveSend(channelName, metrics.SendFailed)
		return fmt.Errorf("send telegram message to %s: %w", jid, err)
	}

	metrics.ObserveSend(channelName, metrics.SendOK)
	return nil
}

// SetTyping sends a typing action. Telegram expires it on its own, so
// clearing is a no-op.
func (a *Adapter) SetTyping(ctx context.Context, jid string, typing bool) error {
	if !typing {
		return nil
	}

	bot, chatID, err := a.target(jid)
	if err != nil {
		return err
	}

	if err := bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
		return fmt.Errorf("send typing action to %s: %w", jid, err)
	}
	return nil
}

func (a *Adapter) target(jid string) (botAPI, int64, error) {
	if !a.connected.Load() {
		return nil, 0, ErrNotConnected
	}

	chatID, err := chatIDFromJID(jid)
	if err != nil {
		return nil, 0, err
	}

	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()

	return bot, chatID, nil
}

func (a *Adapter) poll(ctx context.Context, updates <-chan telego.Update, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() == nil {
					a.log.Error("Telegram updates channel closed")
					a.connected.Store(false)
					metrics.SetConnected(channelName, false)
				}
				return
			}
			a.handleUpdate(update)
		}
	}
}

// handleUpdate reports chat metadata for every accepted text message and
// forwards it when the chat is registered.
func (a *Adapter) handleUpdate(update telego.Update) (outcome string) {
	defer func() {
		metrics.ObserveWebhook(channelName, outcome)
	}()

	message := update.Message
	if message == nil || message.From == nil {
		return metrics.OutcomeIgnored
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		return metrics.OutcomeIgnored
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return metrics.OutcomeIgnored
	}

	chatJID := ChatJID(message.Chat.ID)
	timestamp := channel.FormatTime(time.Unix(message.Date, 0))
	a.log.Info("Received message", "chat_jid", chatJID, "sender_id", senderID, "content", channel.Preview(content, messagePreviewLimit))

	a.callbacks.OnChatMetadata(chatJID, timestamp)

	if _, registered := a.callbacks.Registry()[chatJID]; !registered {
		return metrics.OutcomeMetadataOnly
	}

	a.callbacks.OnMessage(chatJID, channel.InboundMessage{
		ID:         strconv.Itoa(message.MessageID),
		ChatJID:    chatJID,
		Sender:     senderID,
		SenderName: senderName(message.From),
		Content:    content,
		Timestamp:  timestamp,
	})

	return metrics.OutcomeDelivered
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// ChatJID maps a Telegram chat id to its chat JID.
func ChatJID(chatID int64) string {
	return JIDPrefix + strconv.FormatInt(chatID, 10)
}

func chatIDFromJID(jid string) (int64, error) {
	raw, ok := strings.CutPrefix(jid, JIDPrefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram chat jid: %q", jid)
	}

	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse telegram chat id %q: %w", raw, err)
	}
	return chatID, nil
}

func senderName(user *telego.User) string {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name != "" {
		return name
	}
	if user.Username != "" {
		return user.Username
	}

	return strconv.FormatInt(user.ID, 10)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

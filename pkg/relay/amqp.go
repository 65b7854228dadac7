// Package relay carries delivered messages to the assistant over AMQP and
// brings its replies back.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"signalclaw/pkg/bus"
	"signalclaw/pkg/config"
	"signalclaw/pkg/logger"
)

const (
	dialAttempts = 5
	dialDelay    = time.Second
	maxDialDelay = 30 * time.Second
)

// ReplyHandler receives one decoded assistant reply. A returned error
// requeues the delivery.
type ReplyHandler func(ctx context.Context, msg bus.OutboundMessage) error

// AMQP publishes inbound messages to a topic exchange and consumes replies
// from a durable queue bound to it.
type AMQP struct {
	cfg  config.RelayConfig
	conn *amqp091.Connection
	log  *slog.Logger
	now  func() time.Time

	mu  sync.Mutex
	pub *amqp091.Channel
}

// Dial connects to the broker, declares the exchange and opens a confirming
// publish channel.
func Dial(ctx context.Context, cfg config.RelayConfig, log *slog.Logger) (*AMQP, error) {
	log = logger.Component(log, "relay")
	if cfg.URL == "" {
		return nil, errors.New("relay.url is required")
	}

	conn, err := dialWithRetry(ctx, cfg.URL, log)
	if err != nil {
		return nil, err
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open relay channel: %w", err)
	}
	if err := pub.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare relay exchange %s: %w", cfg.Exchange, err)
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	log.Info("Relay connected", "exchange", cfg.Exchange)
	return &AMQP{cfg: cfg, conn: conn, log: log, now: time.Now, pub: pub}, nil
}

func dialWithRetry(ctx context.Context, url string, log *slog.Logger) (*amqp091.Connection, error) {
	var lastErr error
	delay := dialDelay

	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			if attempt > 1 {
				log.Info("Relay broker connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err

		if attempt == dialAttempts {
			break
		}
		log.Warn("Relay dial failed", "attempt", attempt, "sleep", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial relay broker: %w", ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}

	return nil, fmt.Errorf("dial relay broker after %d attempts: %w", dialAttempts, lastErr)
}

// Forward publishes msg and waits for the broker to confirm it.
func (r *AMQP) Forward(ctx context.Context, msg bus.InboundMessage) error {
	envelope := newInboundEnvelope(msg, r.now())
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode inbound envelope: %w", err)
	}

	correlationID := envelope.Meta.ID
	if envelope.Meta.CorrelationID != nil {
		correlationID = *envelope.Meta.CorrelationID
	}

	r.mu.Lock()
	confirm, err := r.pub.PublishWithDeferredConfirmWithContext(
		ctx, r.cfg.Exchange, r.cfg.InboundKey, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     envelope.Meta.ID,
			CorrelationId: correlationID,
			Timestamp:     envelope.Meta.Time,
			Type:          envelope.Meta.Type,
			Body:          body,
		},
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish inbound message %s: %w", msg.ID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected inbound message %s", msg.ID)
	}

	r.log.Debug("Forwarded inbound message", "key", r.cfg.InboundKey, "chat_jid", msg.ChatJID, "message_id", msg.ID)
	return nil
}

// Run consumes replies until ctx is cancelled or the delivery channel closes.
func (r *AMQP) Run(ctx context.Context, handle ReplyHandler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open reply channel: %w", err)
	}
	defer ch.Close()

	deliveries, err := r.setupReplyQueue(ch)
	if err != nil {
		return err
	}
	r.log.Info("Relay consuming replies", "queue", r.cfg.ReplyQueue, "key", r.cfg.OutboundKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("relay reply deliveries closed")
			}
			r.handleDelivery(ctx, delivery, handle)
		}
	}
}

func (r *AMQP) setupReplyQueue(ch *amqp091.Channel) (<-chan amqp091.Delivery, error) {
	if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("set reply prefetch: %w", err)
	}
	queue, err := ch.QueueDeclare(r.cfg.ReplyQueue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue %s: %w", r.cfg.ReplyQueue, err)
	}
	if err := ch.QueueBind(queue.Name, r.cfg.OutboundKey, r.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind reply queue %s: %w", queue.Name, err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume reply queue %s: %w", queue.Name, err)
	}
	return deliveries, nil
}

func (r *AMQP) handleDelivery(ctx context.Context, delivery amqp091.Delivery, handle ReplyHandler) {
	if err := dispatchReply(ctx, delivery.Body, handle); err != nil {
		var decodeErr *invalidReplyError
		if errors.As(err, &decodeErr) {
			r.log.Warn("Dropping invalid reply", "message_id", delivery.MessageId, "error", err)
			_ = delivery.Nack(false, false)
			return
		}
		r.log.Error("Reply handler failed", "message_id", delivery.MessageId, "error", err)
		_ = delivery.Nack(false, true)
		return
	}

	_ = delivery.Ack(false)
}

type invalidReplyError struct {
	err error
}

func (e *invalidReplyError) Error() string { return e.err.Error() }
func (e *invalidReplyError) Unwrap() error { return e.err }

// dispatchReply decodes body and hands the reply to handle.
func dispatchReply(ctx context.Context, body []byte, handle ReplyHandler) error {
	envelope, err := decodeOutbound(body)
	if err != nil {
		return &invalidReplyError{err: err}
	}

	return handle(ctx, envelope.Data)
}

func (r *AMQP) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	if err := r.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return fmt.Errorf("close relay connection: %w", err)
	}
	return nil
}
